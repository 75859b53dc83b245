package mail

import (
	"context"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// StartTLS requires STARTTLS, otherwise it is opportunistic
	StartTLS bool `mapstructure:"starttls"`
}

// SMTPSender sends mail through an SMTP relay
type SMTPSender struct {
	cfg    SMTPConfig
	logger Logger
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender returns a Sender for cfg
func NewSMTPSender(cfg SMTPConfig, logger Logger) *SMTPSender {
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	return s.deliver(ctx, to, subject, gomail.TypeTextPlain, body)
}

func (s *SMTPSender) SendHTML(ctx context.Context, to, subject, html string) error {
	return s.deliver(ctx, to, subject, gomail.TypeTextHTML, html)
}

func (s *SMTPSender) deliver(ctx context.Context, to, subject string, ct gomail.ContentType, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return deliveryError(err, to)
	}
	if err := msg.To(to); err != nil {
		return deliveryError(err, to)
	}
	msg.Subject(subject)
	msg.SetBodyString(ct, body)

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return deliveryError(err, to)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Warn("SMTP send failed", "to", to, "error", err)
		return deliveryError(err, to)
	}

	s.logger.Debug("SMTP message sent", "to", to, "content_type", string(ct))
	return nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.StartTLS {
		opts[1] = gomail.WithTLSPolicy(gomail.TLSMandatory)
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}
