package tfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Decide evaluates one login attempt against the second-factor policy and
// returns the verdict: allowed (with or without an actively verified code)
// or denied with a terminal reason.
//
// Every input is carried in req; nothing is read from globals and no
// directory or policy lookup is cached across calls. Collaborator outages
// surface as errors (never as a silent "not required"); a nil error always
// comes with a non-nil verdict.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (*Verdict, error) {
	if e == nil || e.directory == nil || e.policies == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricDecideLatency, time.Since(start))
	}

	now := decideNow(req)

	// Step 1: protocol gate. When the administrator has not switched
	// enforcement on for non-interactive remote protocols, the attempt
	// passes without a second factor. This is a deliberate, documented
	// bypass surface for clients that cannot carry a code.
	if req.Protocol == ProtocolXMLRPC {
		enforce, err := e.policies.globalFlag(ctx, policyKeyXMLRPCOn)
		if err != nil {
			return nil, err
		}
		if !enforce {
			return e.allowed(ctx, req, "", false, "protocol_exempt", MetricProtocolBypass), nil
		}
	}

	// Step 2: resolve the typed-in identifier to an identity.
	identity, err := e.resolveLogin(ctx, req.Login, req.LoginIsUsername)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return e.denied(ctx, req, "", DenyUserNotFound), nil
	}

	// Step 3: is the second factor available to this user at all.
	activated, err := e.isActivatedForUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !activated {
		return e.allowed(ctx, req, identity.ID, false, "not_activated_for_roles", MetricDecideAllowed), nil
	}

	state, err := e.secondFactorState(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	// Step 4: the user has not opted in. Allowed unless their role makes
	// the second factor mandatory and the account has outlived its grace
	// period.
	if !state.Enabled {
		required, err := e.isRequiredForUser(ctx, identity)
		if err != nil {
			return nil, err
		}
		if !required {
			return e.allowed(ctx, req, identity.ID, false, "not_required", MetricDecideAllowed), nil
		}

		graceDays, err := e.policies.globalInt(ctx, policyKeyRequireAfter, e.config.Policy.RequireAfterDefaultDays)
		if err != nil {
			return nil, err
		}
		grace := time.Duration(graceDays) * 24 * time.Hour
		accountAge := now.Sub(identity.RegisteredAt)

		if accountAge <= grace {
			return e.allowed(ctx, req, identity.ID, false, "grace_period", MetricGraceAllowed), nil
		}
		if e.hooks.EnforceGracePeriod != nil && !e.hooks.EnforceGracePeriod(ctx, identity, accountAge, grace) {
			return e.allowed(ctx, req, identity.ID, false, "grace_waived", MetricGraceAllowed), nil
		}
		return e.denied(ctx, req, identity.ID, DenyRequiredNotEnabled), nil
	}

	// Step 5: trusted-device bypass. A valid trust token satisfies the
	// requirement without counting as active verification.
	if req.TrustToken != "" && e.config.Trust.Enabled && e.trust != nil {
		trusted, err := e.trust.valid(ctx, identity.ID, req.TrustToken, now)
		if err != nil {
			return nil, err
		}
		if trusted {
			return e.allowed(ctx, req, identity.ID, false, "trusted_device", MetricTrustBypass), nil
		}
	}

	// Step 6: delegated credentials. When a different account's
	// credentials gate this login, that account must itself be secured,
	// otherwise delegation would be a clean bypass of the second factor.
	effective, effectiveState := identity, state
	if req.DelegatedUserID != "" && req.DelegatedUserID != identity.ID {
		delegated, err := e.resolveID(ctx, req.DelegatedUserID)
		if err != nil {
			return nil, err
		}
		secured := false
		var delegatedState *SecondFactorState
		if delegated != nil {
			activatedFor, err := e.isActivatedForUser(ctx, delegated)
			if err != nil {
				return nil, err
			}
			if activatedFor {
				delegatedState, err = e.secondFactorState(ctx, delegated.ID)
				if err != nil {
					return nil, err
				}
				secured = delegatedState.Enabled
			}
		}
		if !secured {
			return e.denied(ctx, req, identity.ID, DenyDelegatedUserNotSecured), nil
		}
		effective, effectiveState = delegated, delegatedState
	}

	// Step 7: verify the code against the effective user's secret.
	if e.codeLimiter != nil {
		if err := e.codeLimiter.Check(ctx, effective.ID); err != nil {
			if errors.Is(err, errCodeAttemptsExceeded) {
				e.metricInc(MetricCodeRateLimited)
				e.emitAudit(ctx, auditEventCodeRateLimited, false, effective.ID, ErrCodeRateLimited, nil)
				return nil, ErrCodeRateLimited
			}
			return nil, err
		}
	}

	secret := effectiveState.Secret
	if len(secret) == 0 {
		// Enabled but secretless should not normally occur; provision one
		// so the account does not become permanently unloggable.
		secret, err = e.provider.ProvisionSecret(ctx, effective.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
		}
		e.metricInc(MetricSecretSelfHealed)
		e.emitAudit(ctx, auditEventSecretSelfHealed, true, effective.ID, nil, nil)
	}

	ok, err := e.provider.Verify(secret, stripSpaces(req.Code), now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if !ok {
		if e.codeLimiter != nil {
			if err := e.codeLimiter.RecordFailure(ctx, effective.ID); err != nil && !errors.Is(err, errCodeAttemptsExceeded) {
				return nil, err
			}
		}
		return e.denied(ctx, req, identity.ID, DenyCodeIncorrect), nil
	}
	if e.codeLimiter != nil {
		if err := e.codeLimiter.Reset(ctx, effective.ID); err != nil {
			return nil, err
		}
	}

	e.metricInc(MetricCodeVerified)
	return e.allowed(ctx, req, identity.ID, true, "code_verified", MetricDecideAllowed), nil
}

func (e *Engine) allowed(ctx context.Context, req DecideRequest, userID string, verified bool, path string, metric MetricID) *Verdict {
	e.metricInc(metric)
	if metric != MetricDecideAllowed {
		e.metricInc(MetricDecideAllowed)
	}
	e.emitAudit(ctx, auditEventDecideAllowed, true, userID, nil, func() map[string]string {
		return map[string]string{
			"login":    req.Login,
			"path":     path,
			"verified": boolString(verified),
		}
	})
	return &Verdict{Allowed: true, CodeVerified: verified}
}

func (e *Engine) denied(ctx context.Context, req DecideRequest, userID string, reason DenyReason) *Verdict {
	e.metricInc(MetricDecideDenied)
	switch reason {
	case DenyCodeIncorrect:
		e.metricInc(MetricCodeIncorrect)
	case DenyRequiredNotEnabled:
		e.metricInc(MetricRequiredNotEnabled)
	case DenyDelegatedUserNotSecured:
		e.metricInc(MetricDelegatedDenied)
	case DenyUserNotFound:
		e.metricInc(MetricUserNotFound)
	}
	e.emitAudit(ctx, auditEventDecideDenied, false, userID, nil, func() map[string]string {
		return map[string]string{
			"login":  req.Login,
			"reason": reason.String(),
		}
	})
	return &Verdict{Allowed: false, Reason: reason}
}

func stripSpaces(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
