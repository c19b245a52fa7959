package internaldefs

import (
	tfa "github.com/kvx-labs/tfa"
)

// CounterDef defines a public type used by tfa APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   tfa.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by tfa APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   tfa.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the decision engine.
var CounterDefs = []CounterDef{
	{ID: tfa.MetricDecideAllowed, Name: "tfa_decide_allowed_total", Help: "Login attempts allowed by the decision engine."},
	{ID: tfa.MetricDecideDenied, Name: "tfa_decide_denied_total", Help: "Login attempts denied by the decision engine."},
	{ID: tfa.MetricProtocolBypass, Name: "tfa_protocol_bypass_total", Help: "Attempts allowed through the non-interactive protocol gate."},
	{ID: tfa.MetricTrustBypass, Name: "tfa_trust_bypass_total", Help: "Attempts allowed by a valid trusted-device token."},
	{ID: tfa.MetricGraceAllowed, Name: "tfa_grace_allowed_total", Help: "Attempts allowed within the new-account grace period."},
	{ID: tfa.MetricRequiredNotEnabled, Name: "tfa_required_not_enabled_total", Help: "Denials for users whose role mandates a second factor they never enabled."},
	{ID: tfa.MetricDelegatedDenied, Name: "tfa_delegated_denied_total", Help: "Denials because delegated credentials belong to an unsecured account."},
	{ID: tfa.MetricUserNotFound, Name: "tfa_user_not_found_total", Help: "Denials for unresolvable login identifiers."},
	{ID: tfa.MetricCodeVerified, Name: "tfa_code_verified_total", Help: "Successful code verifications."},
	{ID: tfa.MetricCodeIncorrect, Name: "tfa_code_incorrect_total", Help: "Failed code verifications."},
	{ID: tfa.MetricCodeRateLimited, Name: "tfa_code_rate_limited_total", Help: "Code verifications refused by the failed-attempt limiter."},
	{ID: tfa.MetricSecretSelfHealed, Name: "tfa_secret_self_healed_total", Help: "Secrets provisioned for enabled users found without one."},
	{ID: tfa.MetricTrustGranted, Name: "tfa_trust_granted_total", Help: "Trusted-device tokens granted."},
	{ID: tfa.MetricTrustRevoked, Name: "tfa_trust_revoked_total", Help: "Trusted-device records revoked."},
	{ID: tfa.MetricPreAuth, Name: "tfa_pre_auth_total", Help: "Pre-authentication policy queries."},
}

// HistogramDefs is an exported constant or variable used by the decision engine.
var HistogramDefs = []HistogramDef{
	{ID: tfa.MetricDecideLatency, Name: "tfa_decide_latency_seconds", Help: "Decide latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the decision engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the decision engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
