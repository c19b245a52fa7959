package tfa

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventDecideAllowed      = "decide_allowed"
	auditEventDecideDenied       = "decide_denied"
	auditEventCodeRateLimited    = "code_rate_limited"
	auditEventSecretSelfHealed   = "secret_self_healed"
	auditEventTrustGranted       = "trust_granted"
	auditEventTrustRejected      = "trust_rejected"
	auditEventTrustRevoked       = "trust_revoked"
	auditEventPreAuth            = "pre_auth"
	auditEventUserEnabledChanged = "user_enabled_changed"
)

// AuditErrorCode defines a public type used by tfa APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUserNotFound  AuditErrorCode = "user_not_found"
	auditErrRateLimited   AuditErrorCode = "rate_limited"
	auditErrTrustRejected AuditErrorCode = "trust_not_permitted"
	auditErrTrustDisabled AuditErrorCode = "trust_disabled"
	auditErrEntropy       AuditErrorCode = "entropy_unavailable"
	auditErrNotConfigured AuditErrorCode = "second_factor_not_configured"
	auditErrUnavailable   AuditErrorCode = "backend_unavailable"
	auditErrInternal      AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrCodeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTrustNotPermitted):
		return auditErrTrustRejected
	case errors.Is(err, ErrTrustDisabled):
		return auditErrTrustDisabled
	case errors.Is(err, ErrEntropyUnavailable):
		return auditErrEntropy
	case errors.Is(err, ErrSecondFactorNotConfigured):
		return auditErrNotConfigured
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrDirectoryUnavailable),
		errors.Is(err, ErrSecondFactorUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
