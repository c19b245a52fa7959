package tfa

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisPolicyStore is the built-in PolicyStore: one Redis string per policy
// key, with a missing key reported as unset rather than an error.
//
// RedisPolicyStore instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RedisPolicyStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisPolicyStore describes the newredispolicystore operation and its observable behavior.
//
// NewRedisPolicyStore may return an error when input validation, dependency calls, or security checks fail.
// NewRedisPolicyStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewRedisPolicyStore(redisClient *redis.Client, prefix string) *RedisPolicyStore {
	if prefix == "" {
		prefix = "tfa"
	}
	return &RedisPolicyStore{redis: redisClient, prefix: prefix}
}

func (s *RedisPolicyStore) key(name string) string {
	return s.prefix + ":pol:" + name
}

// GetFlag describes the getflag operation and its observable behavior.
//
// GetFlag may return an error when input validation, dependency calls, or security checks fail.
// GetFlag does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisPolicyStore) GetFlag(ctx context.Context, name string) (bool, bool, error) {
	raw, err := s.redis.Get(ctx, s.key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true, true, nil
	default:
		return false, true, nil
	}
}

// GetInt describes the getint operation and its observable behavior.
//
// GetInt may return an error when input validation, dependency calls, or security checks fail.
// GetInt does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisPolicyStore) GetInt(ctx context.Context, name string) (int, bool, error) {
	raw, err := s.redis.Get(ctx, s.key(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		// A corrupt value behaves as unset so defaults still apply.
		return 0, false, nil
	}
	return value, true, nil
}

// SetFlag describes the setflag operation and its observable behavior.
//
// SetFlag may return an error when input validation, dependency calls, or security checks fail.
// SetFlag does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisPolicyStore) SetFlag(ctx context.Context, name string, value bool) error {
	raw := "0"
	if value {
		raw = "1"
	}
	return s.redis.Set(ctx, s.key(name), raw, 0).Err()
}

// SetInt describes the setint operation and its observable behavior.
//
// SetInt may return an error when input validation, dependency calls, or security checks fail.
// SetInt does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisPolicyStore) SetInt(ctx context.Context, name string, value int) error {
	return s.redis.Set(ctx, s.key(name), strconv.Itoa(value), 0).Err()
}

// Unset describes the unset operation and its observable behavior.
//
// Unset may return an error when input validation, dependency calls, or security checks fail.
// Unset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisPolicyStore) Unset(ctx context.Context, name string) error {
	return s.redis.Del(ctx, s.key(name)).Err()
}
