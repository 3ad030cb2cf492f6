package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payables/internal/config"
)

const keyPrefix = "payables:ratelimit:write"

// WriteLimiter throttles ledger mutations per actor and channel, so the
// FISCAL and INTERNAL books of one actor drain separate buckets.
type WriteLimiter struct {
	bucket *TokenBucket
	rule   Rule
}

// NewWriteLimiter returns nil when rate limiting is disabled. A nil limiter
// allows everything.
func NewWriteLimiter(cfg config.Config, client *redis.Client) (*WriteLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	rule := Rule{Rate: cfg.RateLimitWriteRate, Burst: cfg.RateLimitWriteBurst}
	if !rule.valid() {
		return nil, ErrInvalidRule
	}
	return &WriteLimiter{bucket: NewTokenBucket(client), rule: rule}, nil
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WriteLimiter) Allow(ctx context.Context, actorID, channel string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, writeKey(actorID, channel), l.rule)
}

func writeKey(actorID, channel string) string {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = "anonymous"
	}
	channel = strings.ToUpper(strings.TrimSpace(channel))
	if channel == "" {
		channel = "NONE"
	}
	return keyPrefix + ":" + channel + ":" + actorID
}
