package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refill and take run in one script so concurrent API replicas share a
// bucket. Tokens come back as a string because redis truncates lua numbers.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) / 1000 * rate)
end

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {granted, tostring(tokens), now}
`

var (
	ErrBucketUnavailable = errors.New("rate limit bucket not configured")
	ErrInvalidRule       = errors.New("rate limit rule must be positive")
)

// Rule is a sustained rate in requests per second plus the burst allowed on
// top of it.
type Rule struct {
	Rate  float64
	Burst int
}

func (r Rule) valid() bool {
	return r.Rate > 0 && r.Burst > 0
}

// idleTTL keeps a bucket for twice the time it takes to refill completely.
func (r Rule) idleTTL() time.Duration {
	if !r.valid() {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(r.Burst)/r.Rate*2))
	return time.Duration(seconds) * time.Second
}

// Decision is the outcome of one take against a bucket.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Max(1, math.Ceil(d.RetryAfter.Seconds())))
}

// TokenBucket is a redis-backed token bucket keyed by caller.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(takeScript)}
}

// Take spends one token from the bucket at key.
func (t *TokenBucket) Take(ctx context.Context, key string, rule Rule) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, ErrBucketUnavailable
	}
	if key == "" {
		return Decision{}, errors.New("rate limit key is empty")
	}
	if !rule.valid() {
		return Decision{}, ErrInvalidRule
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rule.Rate, rule.Burst, rule.idleTTL().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %s: %w", key, err)
	}
	return decide(reply, rule)
}

func decide(reply []any, rule Rule) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply of %d values", len(reply))
	}
	granted, ok := reply[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected rate limit grant %T", reply[0])
	}
	tokensRaw, ok := reply[1].(string)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected rate limit tokens %T", reply[1])
	}
	tokens, err := strconv.ParseFloat(tokensRaw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("parse rate limit tokens: %w", err)
	}
	nowMillis, ok := reply[2].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected rate limit clock %T", reply[2])
	}

	d := Decision{
		Allowed:   granted == 1,
		Limit:     rule.Burst,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   time.UnixMilli(nowMillis),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - tokens) / rule.Rate * float64(time.Second))
		d.ResetAt = d.ResetAt.Add(d.RetryAfter)
	}
	return d, nil
}
