package tfa

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

// TOTPProvider is the built-in SecondFactorProvider: RFC 6238 time-based
// codes over an RFC 4226 HMAC core. Provisioned secrets are persisted
// through the UserDirectory so the host never handles raw key material.
//
// TOTPProvider instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPProvider struct {
	config    TOTPConfig
	directory UserDirectory
}

// NewTOTPProvider describes the newtotpprovider operation and its observable behavior.
//
// NewTOTPProvider may return an error when input validation, dependency calls, or security checks fail.
// NewTOTPProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewTOTPProvider(cfg TOTPConfig, directory UserDirectory) *TOTPProvider {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &TOTPProvider{config: cfg, directory: directory}
}

// Verify reports whether code matches the secret at time now, accepting the
// configured number of adjacent time steps on either side. The comparison of
// each candidate is constant-time.
//
// Verify may return an error when input validation, dependency calls, or security checks fail.
// Verify does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *TOTPProvider) Verify(secret []byte, code string, now time.Time) (bool, error) {
	if p == nil {
		return false, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != p.config.Digits || !isNumericString(trimmed) {
		return false, nil
	}

	if len(secret) == 0 {
		return false, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(p.config.Period)
	for step := -p.config.Skew; step <= p.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, p.config.Digits, p.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// Generate returns the code for the current time step. Intended for
// delivering codes over a side channel (email) to users without an
// authenticator app.
//
// Generate may return an error when input validation, dependency calls, or security checks fail.
// Generate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *TOTPProvider) Generate(secret []byte, now time.Time) (string, error) {
	if p == nil {
		return "", ErrEngineNotReady
	}
	if len(secret) == 0 {
		return "", errors.New("empty totp secret")
	}
	counter := now.Unix() / int64(p.config.Period)
	return hotpCode(secret, counter, p.config.Digits, p.config.Algorithm)
}

// ProvisionSecret mints a fresh secret for the user and persists it through
// the directory before returning it.
//
// ProvisionSecret may return an error when input validation, dependency calls, or security checks fail.
// ProvisionSecret does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *TOTPProvider) ProvisionSecret(ctx context.Context, userID string) ([]byte, error) {
	if p == nil || p.directory == nil {
		return nil, ErrEngineNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	if err := p.directory.SaveSecondFactorSecret(ctx, userID, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return raw, nil
}

// ProvisionURI renders the otpauth:// enrollment URI for a secret, suitable
// for QR-code display during setup.
//
// ProvisionURI does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (p *TOTPProvider) ProvisionURI(secret []byte, account string) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	issuer := p.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", enc.EncodeToString(secret))
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(p.config.Period))
	v.Set("digits", strconv.Itoa(p.config.Digits))
	v.Set("algorithm", strings.ToUpper(p.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	code := bin % mod
	return fmt.Sprintf("%0*d", digits, code), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumericString(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
