package tfa

import (
	"context"
	"time"
)

// TrustDevice marks the calling client as trusted for the user and returns
// the bearer token the host should deliver to the client (typically as a
// cookie; transport is the host's concern). Already-expired records are
// pruned from the stored list as part of the grant; still-valid records are
// preserved.
//
// days <= 0 falls back to the trusted_for policy key, then to
// [TrustConfig.DefaultTrustDays]. The caller's address and user agent are
// taken from ctx (see [WithClientIP], [WithUserAgent]).
//
// TrustDevice may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) TrustDevice(ctx context.Context, userID string, days int) (string, error) {
	if e == nil || e.trust == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.Trust.Enabled {
		return "", ErrTrustDisabled
	}

	identity, err := e.resolveID(ctx, userID)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", ErrIdentityNotFound
	}
	eligible, err := e.canTrustDevices(ctx, identity)
	if err != nil {
		return "", err
	}
	if !eligible {
		e.emitAudit(ctx, auditEventTrustRejected, false, userID, ErrTrustNotPermitted, nil)
		return "", ErrTrustNotPermitted
	}

	if days <= 0 {
		days, err = e.policies.globalInt(ctx, policyKeyTrustedFor, e.config.Trust.DefaultTrustDays)
		if err != nil {
			return "", err
		}
		if days <= 0 {
			days = e.config.Trust.DefaultTrustDays
		}
	}

	device, err := e.trust.grant(ctx, userID, days, clientIPFromContext(ctx), userAgentFromContext(ctx), time.Now())
	if err != nil {
		e.emitAudit(ctx, auditEventTrustRejected, false, userID, err, nil)
		return "", err
	}

	e.metricInc(MetricTrustGranted)
	e.emitAudit(ctx, auditEventTrustGranted, true, userID, nil, func() map[string]string {
		return map[string]string{
			"device_id":  device.ID,
			"expires_at": device.ExpiresAt.UTC().Format(time.RFC3339),
		}
	})
	return device.Token, nil
}

// TrustTokenValid reports whether token matches a non-expired trusted-device
// record for the user. Malformed and expired tokens are simply "not
// trusted"; only storage outages produce an error.
//
// TrustTokenValid does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) TrustTokenValid(ctx context.Context, userID, token string) (bool, error) {
	if e == nil || e.trust == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.Trust.Enabled {
		return false, nil
	}
	return e.trust.valid(ctx, userID, token, time.Now())
}

// RevokeTrustedDevice removes one trusted-device record by its ID and
// persists the reduced list. Revoking an unknown ID is a no-op.
//
// RevokeTrustedDevice may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, userID, deviceID string) error {
	if e == nil || e.trust == nil {
		return ErrEngineNotReady
	}
	if err := e.trust.revoke(ctx, userID, deviceID); err != nil {
		return err
	}
	e.metricInc(MetricTrustRevoked)
	e.emitAudit(ctx, auditEventTrustRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}

// TrustedDevices returns the user's trusted-device records as stored,
// including any that have expired since the last grant (grants prune; reads
// do not). Tokens are redacted from the returned records: the bearer value
// is only ever surfaced once, by [Engine.TrustDevice].
//
// TrustedDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) TrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error) {
	if e == nil || e.trust == nil {
		return nil, ErrEngineNotReady
	}
	devices, err := e.trust.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		devices[i].Token = ""
	}
	return devices, nil
}

// CanTrustDevices reports whether the user is eligible to mark devices as
// trusted: the trust feature is on and the trusted_ role policy (or the
// TrustEligibility hook) grants it.
//
// CanTrustDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) CanTrustDevices(ctx context.Context, userID string) (bool, error) {
	if e == nil || e.policies == nil {
		return false, ErrEngineNotReady
	}
	identity, err := e.resolveID(ctx, userID)
	if err != nil {
		return false, err
	}
	if identity == nil {
		return false, nil
	}
	return e.canTrustDevices(ctx, identity)
}
