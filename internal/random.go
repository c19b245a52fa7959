package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEntropyUnavailable reports that the platform CSPRNG failed. Token
// issuance must treat this as fatal: a weak token is worse than no token.
var ErrEntropyUnavailable = errors.New("entropy source unavailable")

// NewTrustToken returns a hex-encoded token carrying n bytes of entropy.
// Uniqueness is probabilistic via entropy; no collision check is performed.
func NewTrustToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid trust token size %d", n)
	}

	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	return hex.EncodeToString(raw), nil
}
