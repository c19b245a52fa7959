package tfa

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Engine defines a public type used by tfa APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config      Config
	directory   UserDirectory
	policies    *policyResolver
	provider    SecondFactorProvider
	trust       *trustIssuer
	codeLimiter *codeAttemptLimiter
	hooks       OverrideHooks
	audit       *auditDispatcher
	metrics     *Metrics
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// resolveLogin implements the email-first identifier resolution: a login
// that parses as an email address is looked up as one, then retried as a
// username (a username is allowed to look like an email). Returns nil, nil
// when no user matches.
func (e *Engine) resolveLogin(ctx context.Context, login string, forceUsername bool) (*UserIdentity, error) {
	if login == "" {
		return nil, nil
	}

	tryEmail := !forceUsername && looksLikeEmail(login)

	if tryEmail {
		identity, err := e.directory.ResolveByEmail(ctx, login)
		switch {
		case err == nil:
			return identity, nil
		case !errors.Is(err, ErrIdentityNotFound):
			return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
		}
	}

	identity, err := e.directory.ResolveByUsername(ctx, login)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, ErrIdentityNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
}

func (e *Engine) resolveID(ctx context.Context, userID string) (*UserIdentity, error) {
	identity, err := e.directory.ResolveByID(ctx, userID)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, ErrIdentityNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
}

func (e *Engine) secondFactorState(ctx context.Context, userID string) (*SecondFactorState, error) {
	state, err := e.directory.SecondFactorState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if state == nil {
		state = &SecondFactorState{}
	}
	return state, nil
}

// isActivatedForUser reports whether the administrator has made the second
// factor available to any of the user's roles.
func (e *Engine) isActivatedForUser(ctx context.Context, identity *UserIdentity) (bool, error) {
	return e.policies.activeForUser(ctx, identity, flagActivated)
}

// isRequiredForUser reports whether any of the user's roles makes the
// second factor mandatory. It does not check isActivatedForUser; callers do
// that first.
func (e *Engine) isRequiredForUser(ctx context.Context, identity *UserIdentity) (bool, error) {
	required, err := e.policies.activeForUser(ctx, identity, flagRequired)
	if err != nil {
		return false, err
	}
	if e.hooks.RequiredForUser != nil {
		required = e.hooks.RequiredForUser(ctx, identity, required)
	}
	return required, nil
}

// canTrustDevices reports whether the user may mark devices as trusted.
// Default is false so that enabling the feature is always an explicit
// administrator decision.
func (e *Engine) canTrustDevices(ctx context.Context, identity *UserIdentity) (bool, error) {
	if !e.config.Trust.Enabled {
		return false, nil
	}
	eligible, err := e.policies.activeForUser(ctx, identity, flagTrusted)
	if err != nil {
		return false, err
	}
	if e.hooks.TrustEligibility != nil {
		eligible = e.hooks.TrustEligibility(ctx, identity, eligible)
	}
	return eligible, nil
}

func looksLikeEmail(s string) bool {
	if !strings.Contains(s, "@") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func decideNow(req DecideRequest) time.Time {
	if req.Now.IsZero() {
		return time.Now()
	}
	return req.Now
}
