package tfa

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kvx-labs/tfa/internal"
)

// trustIssuer owns the trusted-device token lifecycle: grant, validity
// check, revocation. It is the only writer of the TrustStore; every write
// persists the full, already-pruned list.
type trustIssuer struct {
	store TrustStore
	cfg   TrustConfig
}

func newTrustIssuer(store TrustStore, cfg TrustConfig) *trustIssuer {
	return &trustIssuer{store: store, cfg: cfg}
}

// grant prunes expired records, appends a fresh one, persists, and returns
// the new record. Entropy-source failure is fatal: a weak trust token must
// never be issued.
func (t *trustIssuer) grant(ctx context.Context, userID string, days int, origin, descriptor string, now time.Time) (*TrustedDevice, error) {
	devices, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	kept := devices[:0]
	for _, d := range devices {
		if d.Expired(now) {
			continue
		}
		kept = append(kept, d)
	}

	token, err := internal.NewTrustToken(t.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	device := TrustedDevice{
		ID:               uuid.NewString(),
		Token:            token,
		ExpiresAt:        now.Add(time.Duration(days) * 24 * time.Hour),
		OriginAddress:    origin,
		ClientDescriptor: descriptor,
		CreatedAt:        now,
	}
	kept = append(kept, device)

	if err := t.store.Save(ctx, userID, kept); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &device, nil
}

// valid reports whether token matches a live record for the user. Malformed
// (too short) and expired tokens are simply not trusted, never an error.
// The token comparison is constant-time per record.
func (t *trustIssuer) valid(ctx context.Context, userID, token string, now time.Time) (bool, error) {
	if len(token) < t.cfg.MinTokenLength {
		return false, nil
	}

	devices, err := t.load(ctx, userID)
	if err != nil {
		return false, err
	}

	match := false
	for _, d := range devices {
		if d.Expired(now) || d.Token == "" {
			continue
		}
		// No early exit: every live record is compared so the total work
		// does not reveal which record (if any) matched.
		if subtle.ConstantTimeCompare([]byte(d.Token), []byte(token)) == 1 {
			match = true
		}
	}
	return match, nil
}

// revoke removes one record by its ID and persists the reduced list. An
// unknown ID is a no-op.
func (t *trustIssuer) revoke(ctx context.Context, userID, deviceID string) error {
	devices, err := t.load(ctx, userID)
	if err != nil {
		return err
	}

	kept := devices[:0]
	removed := false
	for _, d := range devices {
		if d.ID == deviceID {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	if !removed {
		return nil
	}

	if err := t.store.Save(ctx, userID, kept); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (t *trustIssuer) load(ctx context.Context, userID string) ([]TrustedDevice, error) {
	devices, err := t.store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return devices, nil
}
