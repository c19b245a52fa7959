package tfa

import (
	"context"
	"fmt"
	"time"
)

// PreAuth answers the pre-login question "will this user be asked for a
// code": the host calls it after the first login form submission to decide
// whether to render the code field. It never verifies anything and never
// mutates state beyond lazy secret provisioning for enabled users.
//
// An unknown login yields CodeRequired false, indistinguishable from a user
// without the second factor; PreAuth must not be a user-enumeration oracle.
//
// PreAuth may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) PreAuth(ctx context.Context, login, trustToken string) (*PreAuthResult, error) {
	if e == nil || e.directory == nil || e.policies == nil {
		return nil, ErrEngineNotReady
	}
	e.metricInc(MetricPreAuth)

	identity, err := e.resolveLogin(ctx, login, false)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return &PreAuthResult{}, nil
	}

	activated, err := e.isActivatedForUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !activated {
		return &PreAuthResult{}, nil
	}

	state, err := e.secondFactorState(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if !state.Enabled {
		return &PreAuthResult{}, nil
	}

	if len(state.Secret) == 0 {
		if _, err := e.provider.ProvisionSecret(ctx, identity.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
		}
		e.metricInc(MetricSecretSelfHealed)
		e.emitAudit(ctx, auditEventSecretSelfHealed, true, identity.ID, nil, nil)
	}

	result := &PreAuthResult{CodeRequired: true}

	result.CanTrust, err = e.canTrustDevices(ctx, identity)
	if err != nil {
		return nil, err
	}

	if trustToken != "" && e.config.Trust.Enabled && e.trust != nil {
		result.AlreadyTrusted, err = e.trust.valid(ctx, identity.ID, trustToken, time.Now())
		if err != nil {
			return nil, err
		}
	}

	e.emitAudit(ctx, auditEventPreAuth, true, identity.ID, nil, func() map[string]string {
		return map[string]string{
			"code_required":   boolString(result.CodeRequired),
			"already_trusted": boolString(result.AlreadyTrusted),
		}
	})
	return result, nil
}

// SetUserEnabled flips the user's own second-factor opt-in and records the
// change in the audit stream.
//
// SetUserEnabled may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) SetUserEnabled(ctx context.Context, userID string, enabled bool) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	identity, err := e.resolveID(ctx, userID)
	if err != nil {
		return err
	}
	if identity == nil {
		return ErrIdentityNotFound
	}

	if enabled {
		state, err := e.secondFactorState(ctx, userID)
		if err != nil {
			return err
		}
		if len(state.Secret) == 0 {
			if _, err := e.provider.ProvisionSecret(ctx, userID); err != nil {
				return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
			}
		}
	}

	if err := e.directory.SetSecondFactorEnabled(ctx, userID, enabled); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	e.emitAudit(ctx, auditEventUserEnabledChanged, true, userID, nil, func() map[string]string {
		return map[string]string{"enabled": boolString(enabled)}
	})
	return nil
}

// CurrentCode returns the code that would verify for the user right now.
// Hosts use it to deliver codes over a side channel (typically email) to
// users who have no authenticator app enrolled.
//
// CurrentCode may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) CurrentCode(ctx context.Context, userID string) (string, error) {
	if e == nil || e.directory == nil || e.provider == nil {
		return "", ErrEngineNotReady
	}

	state, err := e.secondFactorState(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(state.Secret) == 0 {
		return "", ErrSecondFactorNotConfigured
	}

	code, err := e.provider.Generate(state.Secret, time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	return code, nil
}
