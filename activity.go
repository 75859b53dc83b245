package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess             ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure             ActivityEventType = "auth.login.failure"
	ActivityEventVerificationIssued       ActivityEventType = "auth.email.verification.issued"
	ActivityEventEmailVerified            ActivityEventType = "auth.email.verified"
	ActivityEventEmailVerificationFailure ActivityEventType = "auth.email.verification.failure"
	ActivityEventPasswordResetRequested   ActivityEventType = "auth.password.reset.requested"
	ActivityEventPasswordResetSuccess     ActivityEventType = "auth.password.reset"
	ActivityEventPasswordResetFailure     ActivityEventType = "auth.password.reset.failure"
	ActivityEventRateLimited              ActivityEventType = "auth.ratelimit.denied"
	ActivityEventTokensCleaned            ActivityEventType = "auth.tokens.cleanup"
	ActivityEventEmailDeliveryFailure     ActivityEventType = "auth.email.delivery.failure"
	ActivityEventUserRegistered           ActivityEventType = "auth.user.registered"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans an event out to every sink.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	out := make([]ActivitySink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var errs []error
		for _, s := range out {
			if err := s.Record(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LoggerActivitySink writes events to logger at info level.
func LoggerActivitySink(logger Logger) ActivitySink {
	return ActivitySinkFunc(func(_ context.Context, event ActivityEvent) error {
		args := []any{"event", string(event.EventType)}
		if event.UserID != "" {
			args = append(args, "user_id", event.UserID)
		}
		for k, v := range event.Metadata {
			args = append(args, k, v)
		}
		logger.Info("auth activity", args...)
		return nil
	})
}

// emitActivity records event and logs sink failures, they never fail the
// operation that produced them.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, clock Clock, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = clock()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
