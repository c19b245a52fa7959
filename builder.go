package tfa

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by tfa APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	directory UserDirectory
	policies  PolicyStore
	trust     TrustStore
	provider  SecondFactorProvider
	auditSink AuditSink
	hooks     OverrideHooks

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithUserDirectory describes the withuserdirectory operation and its observable behavior.
//
// WithUserDirectory may return an error when input validation, dependency calls, or security checks fail.
// WithUserDirectory does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithPolicyStore describes the withpolicystore operation and its observable behavior.
//
// WithPolicyStore may return an error when input validation, dependency calls, or security checks fail.
// WithPolicyStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPolicyStore(s PolicyStore) *Builder {
	b.policies = s
	return b
}

// WithTrustStore describes the withtruststore operation and its observable behavior.
//
// WithTrustStore may return an error when input validation, dependency calls, or security checks fail.
// WithTrustStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithTrustStore(s TrustStore) *Builder {
	b.trust = s
	return b
}

// WithSecondFactorProvider describes the withsecondfactorprovider operation and its observable behavior.
//
// WithSecondFactorProvider may return an error when input validation, dependency calls, or security checks fail.
// WithSecondFactorProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSecondFactorProvider(p SecondFactorProvider) *Builder {
	b.provider = p
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithOverrideHooks describes the withoverridehooks operation and its observable behavior.
//
// WithOverrideHooks may return an error when input validation, dependency calls, or security checks fail.
// WithOverrideHooks does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithOverrideHooks(h OverrideHooks) *Builder {
	b.hooks = h
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.directory == nil {
		return nil, errors.New("user directory required")
	}

	if b.redis == nil {
		if b.policies == nil {
			return nil, errors.New("redis client required when no policy store is supplied")
		}
		if b.trust == nil && cfg.Trust.Enabled {
			return nil, errors.New("redis client required when trust is enabled and no trust store is supplied")
		}
		if cfg.RateLimit.Enabled {
			return nil, errors.New("redis client required when rate limiting is enabled")
		}
	}

	policies := b.policies
	if policies == nil {
		policies = NewRedisPolicyStore(b.redis, cfg.Trust.RedisPrefix)
	}

	provider := b.provider
	if provider == nil {
		provider = NewTOTPProvider(cfg.TOTP, b.directory)
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		policies:  &policyResolver{store: policies, cfg: cfg},
		provider:  provider,
		hooks:     b.hooks,
	}

	if cfg.Trust.Enabled {
		trustStore := b.trust
		if trustStore == nil {
			trustStore = NewRedisTrustStore(b.redis, cfg.Trust.RedisPrefix)
		}
		engine.trust = newTrustIssuer(trustStore, cfg.Trust)
	}

	engine.codeLimiter = newCodeAttemptLimiter(b.redis, cfg.RateLimit)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
