package tfa

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the decision engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrIdentityNotFound is an exported constant or variable used by the decision engine.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrStorageUnavailable is an exported constant or variable used by the decision engine.
	ErrStorageUnavailable = errors.New("policy or trust storage unavailable")
	// ErrDirectoryUnavailable is an exported constant or variable used by the decision engine.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
	// ErrEntropyUnavailable is an exported constant or variable used by the decision engine.
	ErrEntropyUnavailable = errors.New("secure random source unavailable")
	// ErrSecondFactorUnavailable is an exported constant or variable used by the decision engine.
	ErrSecondFactorUnavailable = errors.New("second factor provider unavailable")
	// ErrCodeRateLimited is an exported constant or variable used by the decision engine.
	ErrCodeRateLimited = errors.New("code attempts rate limited")
	// ErrTrustNotPermitted is an exported constant or variable used by the decision engine.
	ErrTrustNotPermitted = errors.New("device trust not permitted for user")
	// ErrTrustDisabled is an exported constant or variable used by the decision engine.
	ErrTrustDisabled = errors.New("device trust disabled")
	// ErrSecondFactorNotConfigured is an exported constant or variable used by the decision engine.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured for user")
)
