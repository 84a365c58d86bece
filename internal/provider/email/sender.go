// Package email implements two email provider configurations: a
// transactional API sender and an SMTP sender, selected once at
// construction and never switched per-job.
package email

import "context"

// Sender dispatches a rendered subject/HTML body pair to one
// recipient address.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// AsProviderSend adapts a Sender to the delivery engine's ProviderSend
// shape. The email channel has no platform concept, so that argument
// is ignored.
func AsProviderSend(s Sender) func(ctx context.Context, to, subject, html string, variables map[string]interface{}, platform string) error {
	return func(ctx context.Context, to, subject, html string, variables map[string]interface{}, platform string) error {
		return s.Send(ctx, to, subject, html)
	}
}
