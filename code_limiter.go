package tfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errCodeAttemptsExceeded = errors.New("code attempts exceeded")

// codeAttemptLimiter throttles failed code verifications per user. Only
// failures count; a successful verification resets the window.
type codeAttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int
	cooldown    time.Duration
}

func newCodeAttemptLimiter(redisClient *redis.Client, cfg RateLimitConfig) *codeAttemptLimiter {
	if !cfg.Enabled || redisClient == nil {
		return nil
	}
	return &codeAttemptLimiter{
		redis:       redisClient,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.Cooldown,
	}
}

func (l *codeAttemptLimiter) key(userID string) string {
	return "tfa:att:" + userID
}

func (l *codeAttemptLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if count >= int64(l.maxAttempts) {
		return errCodeAttemptsExceeded
	}
	return nil
}

func (l *codeAttemptLimiter) RecordFailure(ctx context.Context, userID string) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if count >= int64(l.maxAttempts) {
		return errCodeAttemptsExceeded
	}
	return nil
}

func (l *codeAttemptLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
