package tfa

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by tfa APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Policy    PolicyConfig
	Trust     TrustConfig
	TOTP      TOTPConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig defines a public type used by tfa APIs.
//
// PolicyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PolicyConfig struct {
	// KeyPrefix is prepended to every key read from the PolicyStore.
	KeyPrefix string
	// SuperAdminRole is the pseudo-role name used for the exclusive
	// super-admin policy lookup. It is not a real role and never combines
	// with ordinary role flags.
	SuperAdminRole string
	// RequireAfterDefaultDays is the grace period applied when the
	// requireafter policy key is unset.
	RequireAfterDefaultDays int
}

const (
	policyKeyRequiredPrefix = "required_"
	policyKeyTrustedPrefix  = "trusted_"
	policyKeyRequireAfter   = "requireafter"
	policyKeyTrustedFor     = "trusted_for"
	policyKeyXMLRPCOn       = "xmlrpc_on"
)

/*
====================================
TRUST CONFIG
====================================
*/

// TrustConfig defines a public type used by tfa APIs.
//
// TrustConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TrustConfig struct {
	Enabled bool
	// DefaultTrustDays is used when TrustDevice is called with days <= 0
	// and the trusted_for policy key is unset.
	DefaultTrustDays int
	// TokenBytes is the entropy of a newly issued trust token, in bytes,
	// before hex encoding. Values below 40 are rejected by Validate.
	TokenBytes int
	// MinTokenLength is the shortest presented token that will even be
	// compared against stored records; anything shorter is malformed and
	// simply not trusted.
	MinTokenLength int
	// RedisPrefix namespaces the built-in Redis trust store.
	RedisPrefix string
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by tfa APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	Skew      int
}

// RateLimitConfig defines a public type used by tfa APIs.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	// Enabled turns on per-user failed-code throttling on the Decide
	// verification path. Off by default: the decision algorithm itself
	// carries no throttle state.
	Enabled     bool
	MaxAttempts int
	Cooldown    time.Duration
}

// AuditConfig defines a public type used by tfa APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by tfa APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			KeyPrefix:               "tfa_",
			SuperAdminRole:          "_super_admin",
			RequireAfterDefaultDays: 30,
		},
		Trust: TrustConfig{
			Enabled:          true,
			DefaultTrustDays: 30,
			TokenBytes:       40,
			MinTokenLength:   30,
			RedisPrefix:      "tfa",
		},
		TOTP: TOTPConfig{
			Issuer:    "tfa",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			MaxAttempts: 5,
			Cooldown:    time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a deep copy.
	return cfg
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.Policy.SuperAdminRole == "" {
		return errors.New("Policy.SuperAdminRole must not be empty")
	}
	if strings.ContainsAny(c.Policy.SuperAdminRole, " \t\n") {
		return errors.New("Policy.SuperAdminRole must not contain whitespace")
	}
	if c.Policy.RequireAfterDefaultDays < 0 {
		return errors.New("Policy.RequireAfterDefaultDays must not be negative")
	}

	if c.Trust.Enabled {
		if c.Trust.TokenBytes < 40 {
			return errors.New("Trust.TokenBytes must be at least 40")
		}
		if c.Trust.MinTokenLength <= 0 {
			return errors.New("Trust.MinTokenLength must be positive")
		}
		if c.Trust.DefaultTrustDays <= 0 {
			return errors.New("Trust.DefaultTrustDays must be positive")
		}
	}

	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP.Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("TOTP.Digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP.Period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 10 {
		return errors.New("TOTP.Skew must be between 0 and 10")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxAttempts <= 0 {
			return errors.New("RateLimit.MaxAttempts must be positive")
		}
		if c.RateLimit.Cooldown <= 0 {
			return errors.New("RateLimit.Cooldown must be positive")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive")
	}

	return nil
}

func (c Config) policyKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.Policy.KeyPrefix)
	for _, p := range parts {
		b.WriteString(p)
	}
	return b.String()
}
