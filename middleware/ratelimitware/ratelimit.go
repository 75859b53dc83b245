// Package ratelimitware throttles fiber routes per client address.
package ratelimitware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth/ratelimit"
)

const DefaultKeyPrefix = "ip:"

type Config struct {
	// Filter skips the middleware when it returns true
	Filter func(*fiber.Ctx) bool
	// Limiter is required
	Limiter ratelimit.Admitter
	// KeyPrefix namespaces the bucket keys, so one limiter can guard
	// several routes without them sharing budgets.
	KeyPrefix string
	// KeyFunc resolves the client key, defaults to ClientIP
	KeyFunc func(*fiber.Ctx) string
	// OnDenied is called after a request is rejected
	OnDenied func(c *fiber.Ctx, key string, retryAfter int)
}

func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		key := cfg.KeyPrefix + cfg.KeyFunc(c)
		if cfg.Limiter.TryConsume(key) {
			return c.Next()
		}

		retryAfter := cfg.Limiter.SecondsUntilNextToken(key)
		if retryAfter < 1 {
			retryAfter = 1
		}

		if cfg.OnDenied != nil {
			cfg.OnDenied(c, key, retryAfter)
		}

		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "too_many_requests",
		})
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Limiter == nil {
		panic("AUTH: rate limit middleware configuration: Limiter is required.")
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}

	return cfg
}

// ClientIP returns c.IP(). Forwarding headers only count when the app
// trusts the connecting proxy, see fiber.Config.EnableTrustedProxyCheck.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}
