package tfa

import (
	"context"
	"time"
)

// CallerProtocol identifies the protocol the login attempt arrived over.
// Non-interactive remote protocols can be exempted from second-factor
// enforcement by global policy (see [PolicyConfig]).
type CallerProtocol uint8

const (
	// ProtocolInteractive is an exported constant or variable used by the decision engine.
	ProtocolInteractive CallerProtocol = iota
	// ProtocolXMLRPC is an exported constant or variable used by the decision engine.
	ProtocolXMLRPC
)

// DenyReason enumerates the terminal denial reasons a [Verdict] can carry.
type DenyReason uint8

const (
	// DenyNone is an exported constant or variable used by the decision engine.
	DenyNone DenyReason = iota
	// DenyUserNotFound is an exported constant or variable used by the decision engine.
	DenyUserNotFound
	// DenyCodeIncorrect is an exported constant or variable used by the decision engine.
	DenyCodeIncorrect
	// DenyRequiredNotEnabled is an exported constant or variable used by the decision engine.
	DenyRequiredNotEnabled
	// DenyDelegatedUserNotSecured is an exported constant or variable used by the decision engine.
	DenyDelegatedUserNotSecured
)

// String returns the stable wire-safe name of the denial reason.
func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyUserNotFound:
		return "user_not_found"
	case DenyCodeIncorrect:
		return "code_incorrect"
	case DenyRequiredNotEnabled:
		return "required_not_enabled"
	case DenyDelegatedUserNotSecured:
		return "delegated_user_not_secured"
	default:
		return "unknown"
	}
}

// UserIdentity is the immutable per-attempt view of a user returned by
// [UserDirectory]. Roles aggregate membership across all sub-sites when the
// host is multi-tenant; SuperAdmin is orthogonal to the role list and, when
// set, is the exclusive input to policy resolution.
type UserIdentity struct {
	ID           string
	Roles        []string
	SuperAdmin   bool
	RegisteredAt time.Time
}

// SecondFactorState is the per-user second-factor record returned by
// [UserDirectory.SecondFactorState]. Secret may be empty for a user who
// enabled the second factor before a secret was provisioned; [Engine.Decide]
// self-heals that state on the verification path.
type SecondFactorState struct {
	Enabled bool
	Secret  []byte
}

// TrustedDevice is one trusted-device grant. Token is the bearer value the
// client presents; ID is the stable handle used for revocation. A record is
// live while ExpiresAt is strictly in the future.
type TrustedDevice struct {
	ID               string
	Token            string
	ExpiresAt        time.Time
	OriginAddress    string
	ClientDescriptor string
	CreatedAt        time.Time
}

// Expired reports whether the record is dead at the given instant. A record
// expiring exactly at now is already dead.
func (d TrustedDevice) Expired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}

// DecideRequest carries every input to one authentication decision. All
// request state is explicit; the engine reads nothing from globals. A zero
// Now means time.Now().
type DecideRequest struct {
	// Login is whatever the user typed into the login form: a username or
	// an email address.
	Login string
	// Code is the one-time code as supplied, whitespace and all.
	Code string
	// TrustToken is the trusted-device bearer token presented by the
	// client, or empty.
	TrustToken string
	// DelegatedUserID is set when a different account's credentials are
	// being used to authenticate as Login (alternate-login mechanisms).
	// Empty or equal to the resolved identity means no delegation.
	DelegatedUserID string
	// LoginIsUsername forces the username interpretation even when Login
	// is syntactically a valid email address (set when the host already
	// resolved the user object).
	LoginIsUsername bool
	Protocol        CallerProtocol
	Now             time.Time
}

// Verdict is the outcome of one [Engine.Decide] call. Allowed with
// CodeVerified false means the second factor was not required (or was
// bypassed by policy or a trust token); CodeVerified true means a code was
// actively checked and passed. A denial carries its terminal Reason.
type Verdict struct {
	Allowed      bool
	CodeVerified bool
	Reason       DenyReason
}

// PreAuthResult is returned by [Engine.PreAuth]. It tells the login form
// whether to render the code field, whether to offer the "trust this
// device" checkbox, and whether the presented trust token already covers
// this client.
type PreAuthResult struct {
	CodeRequired   bool
	CanTrust       bool
	AlreadyTrusted bool
}

// UserDirectory resolves login identifiers to identities and owns the
// per-user second-factor state. Implementations are supplied by the host
// application; every lookup must reflect current data since role membership
// and opt-in status can change between attempts.
//
// Resolve methods return [ErrIdentityNotFound] (possibly wrapped) when no
// user matches; any other error is treated as a directory outage and
// propagated.
type UserDirectory interface {
	ResolveByUsername(ctx context.Context, username string) (*UserIdentity, error)
	ResolveByEmail(ctx context.Context, email string) (*UserIdentity, error)
	ResolveByID(ctx context.Context, userID string) (*UserIdentity, error)
	SecondFactorState(ctx context.Context, userID string) (*SecondFactorState, error)
	SaveSecondFactorSecret(ctx context.Context, userID string, secret []byte) error
	SetSecondFactorEnabled(ctx context.Context, userID string, enabled bool) error
}

// PolicyStore is read-only key/value settings storage. GetFlag returns the
// flag value and whether the key was set at all: unset keys fall back to
// documented defaults rather than erroring, so absent configuration can
// never silently disable an opted-in user's second factor.
type PolicyStore interface {
	GetFlag(ctx context.Context, key string) (value bool, set bool, err error)
	GetInt(ctx context.Context, key string) (value int, set bool, err error)
}

// SecondFactorProvider issues and verifies one-time codes against a
// per-user secret. The default implementation is RFC 6238 TOTP (see
// [NewTOTPProvider]); hosts may substitute their own.
//
// ProvisionSecret must generate, persist, and return a fresh secret for the
// user.
type SecondFactorProvider interface {
	Verify(secret []byte, code string, now time.Time) (bool, error)
	Generate(secret []byte, now time.Time) (string, error)
	ProvisionSecret(ctx context.Context, userID string) ([]byte, error)
}

// TrustStore persists the per-user trusted-device list. The engine is the
// only writer: Save always rewrites the full (already pruned) list.
// Concurrent grants for one user may race; a lost update is a tolerable
// degradation (the user is asked for a code again), never a security
// downgrade.
type TrustStore interface {
	Load(ctx context.Context, userID string) ([]TrustedDevice, error)
	Save(ctx context.Context, userID string, devices []TrustedDevice) error
}

// OverrideHooks are the enumerated decision-point extension hooks. Each nil
// hook leaves the built-in behavior in place. These replace the original
// open-ended filter bus with exactly three documented override points.
type OverrideHooks struct {
	// RequiredForUser may override the role-derived requirement verdict
	// for a user (step 4 of Decide).
	RequiredForUser func(ctx context.Context, identity *UserIdentity, required bool) bool
	// EnforceGracePeriod may waive the required-but-not-enabled denial for
	// a user whose grace period has lapsed. Returning false allows the
	// login.
	EnforceGracePeriod func(ctx context.Context, identity *UserIdentity, accountAge, grace time.Duration) bool
	// TrustEligibility may override whether a user is allowed to trust
	// devices at all.
	TrustEligibility func(ctx context.Context, identity *UserIdentity, eligible bool) bool
}
