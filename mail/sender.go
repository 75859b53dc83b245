// Package mail delivers transactional email.
package mail

import (
	"context"

	"github.com/goliatone/go-errors"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
	SendHTML(ctx context.Context, to, subject, html string) error
}

// Logger is the logging contract used by the package
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultFrom is used when no sender address is configured
const DefaultFrom = "no-reply@compilingjava.com"

// ErrDelivery wraps every transport failure.
var ErrDelivery = errors.New("failed to send email", errors.CategoryOperation).
	WithTextCode("EMAIL_DELIVERY_FAILED")

func deliveryError(err error, to string) error {
	return errors.Wrap(err, ErrDelivery.Category, ErrDelivery.Message).
		WithTextCode(ErrDelivery.TextCode).
		WithMetadata(map[string]any{
			"to": to,
		})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
