package tfa

import (
	"context"
	"fmt"
)

// policyResolver implements the one role-policy evaluation rule used for
// every per-role flag family (activation, requirement, trust eligibility):
// super-admin is an exclusive, terminal lookup that never falls through to
// ordinary role flags; otherwise the flags of every held role are OR-ed
// together, so any qualifying role wins.
type policyResolver struct {
	store PolicyStore
	cfg   Config
}

// flagPrefix selects a per-role flag family. The activation family has no
// prefix: its keys are just <KeyPrefix><role>.
type flagPrefix string

const (
	flagActivated flagPrefix = ""
	flagRequired  flagPrefix = policyKeyRequiredPrefix
	flagTrusted   flagPrefix = policyKeyTrustedPrefix
)

// unsetDefault returns the value an unset per-role flag resolves to.
// Activation for the super-admin pseudo-role defaults to true: a multisite
// super admin must never lose the second factor because nobody saved a
// setting. Everything else defaults to false.
func (p flagPrefix) unsetDefault(superAdmin bool) bool {
	return p == flagActivated && superAdmin
}

func (r *policyResolver) activeForUser(ctx context.Context, identity *UserIdentity, prefix flagPrefix) (bool, error) {
	if identity == nil || identity.ID == "" {
		return false, nil
	}

	if identity.SuperAdmin {
		// Terminal: the super-admin flag alone decides, whatever the
		// user's ordinary roles say.
		value, set, err := r.store.GetFlag(ctx, r.cfg.policyKey(string(prefix), r.cfg.Policy.SuperAdminRole))
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if !set {
			return prefix.unsetDefault(true), nil
		}
		return value, nil
	}

	for _, role := range identity.Roles {
		if role == "" {
			continue
		}
		value, set, err := r.store.GetFlag(ctx, r.cfg.policyKey(string(prefix), role))
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if set && value {
			return true, nil
		}
	}

	return false, nil
}

// globalInt reads a global integer policy key, falling back to def when the
// key is unset.
func (r *policyResolver) globalInt(ctx context.Context, key string, def int) (int, error) {
	value, set, err := r.store.GetInt(ctx, r.cfg.policyKey(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !set || value < 0 {
		return def, nil
	}
	return value, nil
}

// globalFlag reads a global boolean policy key; unset resolves to false.
func (r *policyResolver) globalFlag(ctx context.Context, key string) (bool, error) {
	value, set, err := r.store.GetFlag(ctx, r.cfg.policyKey(key))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return set && value, nil
}
