package mail

import (
	"context"
	"sync"
	"time"
)

// AsyncSender hands messages to a goroutine and returns at once. Failures
// are logged, callers never see them.
type AsyncSender struct {
	next    Sender
	logger  Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ Sender = (*AsyncSender)(nil)

// NewAsyncSender wraps next. timeout bounds each delivery.
func NewAsyncSender(next Sender, timeout time.Duration, logger Logger) *AsyncSender {
	if logger == nil {
		logger = nopLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncSender{next: next, logger: logger, timeout: timeout}
}

func (s *AsyncSender) Send(_ context.Context, to, subject, body string) error {
	s.dispatch(to, subject, func(ctx context.Context) error {
		return s.next.Send(ctx, to, subject, body)
	})
	return nil
}

func (s *AsyncSender) SendHTML(_ context.Context, to, subject, html string) error {
	s.dispatch(to, subject, func(ctx context.Context) error {
		return s.next.SendHTML(ctx, to, subject, html)
	})
	return nil
}

// Wait blocks until in flight deliveries finish
func (s *AsyncSender) Wait() {
	s.wg.Wait()
}

// dispatch detaches from the request context, the request is usually done
// by the time the relay answers.
func (s *AsyncSender) dispatch(to, subject string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Error("Async email delivery failed", "to", to, "subject", subject, "error", err)
		}
	}()
}
