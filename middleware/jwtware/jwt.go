// Package jwtware authenticates fiber requests from access tokens.
//
// The gate never rejects a request on its own. A missing or bad token
// leaves the request anonymous, RequireAuth and RequireRole decide what
// anonymous callers may reach.
package jwtware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth"
)

var (
	defaultTokenLookup       = "header:" + fiber.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

const (
	DefaultContextKey = "user"
	DefaultClaimsKey  = "claims"
)

// AccessTokenParser validates access tokens, auth.TokenService satisfies it
type AccessTokenParser interface {
	ParseAccessToken(raw string) (*auth.AccessClaims, error)
}

type Config struct {
	// Filter skips the middleware when it returns true
	Filter func(*fiber.Ctx) bool
	// Tokens is required
	Tokens AccessTokenParser
	// Identities loads the identity named by the token subject, required
	Identities auth.IdentityProvider
	// ContextKey stores the identity in fiber Locals
	ContextKey string
	// ClaimsKey stores the parsed claims in fiber Locals
	ClaimsKey   string
	TokenLookup string
	AuthScheme  string
	Logger      auth.Logger
}

func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		if _, ok := IdentityFrom(c, cfg.ContextKey); ok {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return c.Next()
		}

		claims, err := cfg.Tokens.ParseAccessToken(raw)
		if err != nil {
			cfg.Logger.Debug("JWT gate rejected token", "path", c.Path(), "error", err)
			clearIdentity(c, cfg)
			return c.Next()
		}

		identity, err := cfg.Identities.FindIdentityByIdentifier(c.UserContext(), claims.Subject())
		if err != nil || identity == nil {
			cfg.Logger.Debug("JWT gate could not load identity", "subject", claims.Subject(), "error", err)
			clearIdentity(c, cfg)
			return c.Next()
		}

		c.Locals(cfg.ContextKey, identity)
		c.Locals(cfg.ClaimsKey, claims)

		ctx := auth.WithContext(c.UserContext(), identity)
		ctx = auth.WithClaimsContext(ctx, claims)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

func clearIdentity(c *fiber.Ctx, cfg Config) {
	c.Locals(cfg.ContextKey, nil)
	c.Locals(cfg.ClaimsKey, nil)
}

// IdentityFrom returns the identity the gate stored under key
func IdentityFrom(c *fiber.Ctx, key string) (auth.Identity, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	identity, ok := c.Locals(key).(auth.Identity)
	return identity, ok && identity != nil
}

// ClaimsFrom returns the claims the gate stored under key
func ClaimsFrom(c *fiber.Ctx, key string) (*auth.AccessClaims, bool) {
	if key == "" {
		key = DefaultClaimsKey
	}
	claims, ok := c.Locals(key).(*auth.AccessClaims)
	return claims, ok && claims != nil
}

func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error
	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			return raw, nil
		}
	}
	if err == nil {
		err = ErrJWTMissingOrMalformed
	}
	return "", err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Tokens == nil {
		panic("AUTH: JWT middleware configuration: Tokens is required.")
	}

	if cfg.Identities == nil {
		panic("AUTH: JWT middleware configuration: Identities is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.ClaimsKey == "" {
		cfg.ClaimsKey = DefaultClaimsKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.NoopLogger()
	}

	return cfg
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// GetExtractors parses a lookup such as header:Authorization,cookie:jwt
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}

		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader requires "<scheme> <token>"
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l+1:]); token != "" {
				return token, nil
			}
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
