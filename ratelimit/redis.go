package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and optionally takes one token atomically.
// ARGV: capacity, tokens per ms, now in ms, cost (0 probes).
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if cost > 0 then
	if tokens >= cost then
		tokens = tokens - cost
		allowed = 1
	end
	redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
	redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / rate))
end

return {allowed, tostring(tokens)}
`)

// RedisOption configures a RedisAdmitter
type RedisOption func(*RedisAdmitter)

// WithRedisClock replaces the time source
func WithRedisClock(clock func() time.Time) RedisOption {
	return func(r *RedisAdmitter) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRedisLogger sets the logger
func WithRedisLogger(logger Logger) RedisOption {
	return func(r *RedisAdmitter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeout bounds every round trip
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisAdmitter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// RedisAdmitter shares buckets across instances through redis. Store
// failures admit the request and are logged.
type RedisAdmitter struct {
	client  redis.Scripter
	policy  Policy
	prefix  string
	clock   func() time.Time
	timeout time.Duration
	logger  Logger
}

var _ Admitter = (*RedisAdmitter)(nil)

// NewRedisAdmitter returns an Admitter storing buckets under prefix.
func NewRedisAdmitter(client redis.Scripter, prefix string, policy Policy, opts ...RedisOption) (*RedisAdmitter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	r := &RedisAdmitter{
		client:  client,
		policy:  policy,
		prefix:  prefix,
		clock:   time.Now,
		timeout: 250 * time.Millisecond,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *RedisAdmitter) TryConsume(key string) bool {
	allowed, _, err := r.eval(key, 1)
	if err != nil {
		r.logger.Error("ratelimit redis consume failed, admitting", "key", key, "error", err)
		return true
	}
	return allowed
}

func (r *RedisAdmitter) SecondsUntilNextToken(key string) int {
	_, tokens, err := r.eval(key, 0)
	if err != nil {
		r.logger.Error("ratelimit redis probe failed", "key", key, "error", err)
		return 0
	}
	return secondsUntil(tokens, float64(r.policy.Limit()))
}

func (r *RedisAdmitter) eval(key string, cost int) (bool, float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key},
		r.policy.Capacity,
		strconv.FormatFloat(r.policy.PerMillisecond(), 'f', -1, 64),
		r.clock().UnixMilli(),
		cost,
	).Slice()
	if err != nil {
		return false, 0, err
	}

	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: bad token count %q: %w", raw, err)
	}

	return allowed == 1, tokens, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
