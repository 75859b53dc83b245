package jwtware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth"
)

// RequireAuth answers 401 to anonymous requests
func RequireAuth(contextKey ...string) fiber.Handler {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}

	return func(c *fiber.Ctx) error {
		if _, ok := IdentityFrom(c, key); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		return c.Next()
	}
}

// RequireRole answers 401 to anonymous requests and 403 to identities
// below role.
func RequireRole(role auth.UserRole, contextKey ...string) fiber.Handler {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}

	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFrom(c, key)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		if !auth.ParseRole(identity.Role()).IsAtLeast(role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}
		return c.Next()
	}
}
