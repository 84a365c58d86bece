package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// APIConfig configures the transactional email API sender.
type APIConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// APISender dispatches via the SendGrid v3 Mail Send API, posting
// {from, to[], subject, html}.
type APISender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewAPISender builds an APISender. Requires an API key.
func NewAPISender(cfg APIConfig) (*APISender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("email API sender requires an API key")
	}
	return &APISender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

func (s *APISender) Send(ctx context.Context, to, subject, html string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, "", html)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: unexpected status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
