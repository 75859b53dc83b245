// Package ratelimit implements keyed token buckets.
//
// Limiter keeps buckets in process memory, so limits are only enforced
// per instance. Deployments running several replicas should use
// RedisAdmitter, which implements the same Admitter contract against a
// shared store.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Admitter admits or rejects actions per key.
type Admitter interface {
	// TryConsume takes one token from key's bucket, creating a full bucket
	// on first use.
	TryConsume(key string) bool
	// SecondsUntilNextToken probes key's bucket without consuming. It
	// returns 0 when a token is available, otherwise the wait rounded up
	// with a minimum of 1.
	SecondsUntilNextToken(key string) int
}

// Logger is the logging contract used by the package
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the time source
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Limiter is an in-process Admitter backed by x/time/rate.
type Limiter struct {
	policy  Policy
	clock   func() time.Time
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

var _ Admitter = (*Limiter)(nil)

// New returns a Limiter for policy. It panics on an invalid policy since
// policies come from configuration validated at startup.
func New(policy Policy, opts ...Option) *Limiter {
	if err := policy.Validate(); err != nil {
		panic(err)
	}

	l := &Limiter{
		policy:  policy,
		clock:   time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Policy returns the bucket shape
func (l *Limiter) Policy() Policy {
	return l.policy
}

func (l *Limiter) TryConsume(key string) bool {
	return l.bucket(key, true).AllowN(l.clock(), 1)
}

func (l *Limiter) SecondsUntilNextToken(key string) int {
	b := l.bucket(key, false)
	if b == nil {
		return 0
	}
	return secondsUntil(b.TokensAt(l.clock()), float64(b.Limit()))
}

// Prune drops buckets that refilled to capacity, they are
// indistinguishable from fresh ones.
func (l *Limiter) Prune() int {
	now := l.clock()
	capacity := float64(l.policy.Capacity)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= capacity {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(key string, create bool) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if ok || !create {
		return b
	}

	b = rate.NewLimiter(l.policy.Limit(), l.policy.Capacity)
	l.buckets[key] = b
	return b
}

// secondsUntil converts a token deficit into whole seconds.
func secondsUntil(tokens, perSecond float64) int {
	if tokens >= 1 {
		return 0
	}
	if perSecond <= 0 {
		return math.MaxInt32
	}
	wait := int(math.Ceil((1 - tokens) / perSecond))
	if wait < 1 {
		return 1
	}
	return wait
}
