package auth

import (
	"context"
	"fmt"
	"time"
)

// Logger is the logging contract used across the package. Messages are
// followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() string
	GetAccessTokenTTL() time.Duration
	GetEmailVerificationTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetTokenRetention() time.Duration
	GetWebBaseURL() string
	GetVerifyLinkBase() string
	GetResetLinkBase() string
}

// IdentityProvider ensure we have a store to retrieve auth identity
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// EmailSender is the outbound mail collaborator. Implementations live in
// the mail package.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
	SendHTML(ctx context.Context, to, subject, html string) error
}

// RateLimiter admits or rejects actions per key.
type RateLimiter interface {
	TryConsume(key string) bool
	SecondsUntilNextToken(key string) int
}

// Clock returns the current time, tests swap it for a fixed one.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println(line("[ERR] AUTH ", msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println(line("[WRN] AUTH ", msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println(line("[INF] AUTH ", msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println(line("[DBG] AUTH ", msg, args))
}

func line(prefix, msg string, args []any) string {
	s := prefix + msg
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			s += fmt.Sprintf(" %v=%v", args[i], args[i+1])
		} else {
			s += fmt.Sprintf(" %v", args[i])
		}
	}
	return s
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards everything, handy in tests.
func NoopLogger() Logger { return noopLogger{} }
