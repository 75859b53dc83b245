package mail

import (
	"context"
	"sync"
)

// Message is a delivered message as recorded by LogSender
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// LogSender logs messages instead of sending them. It keeps the messages
// so local development and tests can read the links.
type LogSender struct {
	logger Logger
	mu     sync.Mutex
	sent   []Message
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(logger Logger) *LogSender {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.record(Message{To: to, Subject: subject, Body: body})
	return nil
}

func (s *LogSender) SendHTML(_ context.Context, to, subject, html string) error {
	s.record(Message{To: to, Subject: subject, Body: html, HTML: true})
	return nil
}

// Messages returns a copy of everything sent so far
func (s *LogSender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *LogSender) record(m Message) {
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()

	s.logger.Info("Email (not sent)", "to", m.To, "subject", m.Subject, "html", m.HTML, "body", m.Body)
}
