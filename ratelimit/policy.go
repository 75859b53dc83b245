package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a token bucket shape: Capacity tokens, refilled at Refill
// tokens per Interval. Refill is continuous, 3 per 5m earns one token
// every 100s rather than three at the end of the window.
type Policy struct {
	Capacity int           `mapstructure:"capacity" json:"capacity"`
	Refill   int           `mapstructure:"refill" json:"refill"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

var (
	PasswordResetByEmail = Policy{Capacity: 3, Refill: 3, Interval: 5 * time.Minute}
	PasswordResetByIP    = Policy{Capacity: 5, Refill: 5, Interval: time.Minute}
	ResendByIP           = Policy{Capacity: 5, Refill: 5, Interval: time.Minute}
	ResendByEmail        = Policy{Capacity: 3, Refill: 3, Interval: time.Hour}
)

// Validate checks the policy can admit anything at all
func (p Policy) Validate() error {
	if p.Capacity < 1 {
		return fmt.Errorf("ratelimit: capacity must be positive, got %d", p.Capacity)
	}
	if p.Refill < 1 {
		return fmt.Errorf("ratelimit: refill must be positive, got %d", p.Refill)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("ratelimit: interval must be positive, got %s", p.Interval)
	}
	return nil
}

// Limit is the refill rate in tokens per second
func (p Policy) Limit() rate.Limit {
	return rate.Limit(float64(p.Refill) / p.Interval.Seconds())
}

// PerMillisecond is the refill rate in tokens per millisecond
func (p Policy) PerMillisecond() float64 {
	return float64(p.Refill) / float64(p.Interval.Milliseconds())
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s (burst %d)", p.Refill, p.Interval, p.Capacity)
}
