package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// SMTPConfig configures the SMTP sender. Port 465 uses implicit TLS;
// any other port uses STARTTLS when the server offers it.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	DisplayName string
	// Workers bounds how many SMTP dials may be in flight at once, so a
	// blocked dial never starves the rest of the consumer's goroutines.
	Workers int
}

// SMTPSender sends mail over SMTP using gopkg.in/gomail.v2,
// dispatching each send onto a bounded worker pool since gomail's
// DialAndSend blocks the calling goroutine for the full handshake.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	name   string
	sem    chan struct{}
	logger *zap.Logger
}

// NewSMTPSender builds an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Username == "" {
		logger.Warn("SMTP sender configured without credentials, attempting anonymous send",
			zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &SMTPSender{
		dialer: dialer,
		from:   cfg.FromAddress,
		name:   cfg.DisplayName,
		sem:    make(chan struct{}, workers),
		logger: logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.from, s.name)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		defer func() { <-s.sem }()
		done <- result{err: s.dialer.DialAndSend(msg)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("smtp send: %w", r.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
