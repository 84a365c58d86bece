package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// IOSConfig configures the APNs sender.
type IOSConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	BundleID   string
	UseSandbox bool
}

// IOSSender dispatches via Apple Push Notification Service using
// github.com/sideshow/apns2.
type IOSSender struct {
	client *apns2.Client
	topic  string
}

// NewIOSSender builds an IOSSender from a .p8 signing key. Send on a
// nil *IOSSender reports push.ErrNotConfigured rather than panicking,
// so callers that skip construction entirely can still route through
// one uninitialized.
func NewIOSSender(cfg IOSConfig) (*IOSSender, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load apns key: %w", err)
	}
	tok := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}
	client := apns2.NewTokenClient(tok)
	if cfg.UseSandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return &IOSSender{client: client, topic: cfg.BundleID}, nil
}

func (s *IOSSender) Send(ctx context.Context, deviceToken, title, body string, variables map[string]interface{}) error {
	if s == nil || s.client == nil {
		return ErrNotConfigured
	}

	p := payload.NewPayload().
		AlertTitle(title).
		AlertBody(body).
		Sound("default").
		Badge(1)
	for k, v := range variables {
		p = p.Custom(k, v)
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     p,
	}

	resp, err := s.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("apns send: %w", err)
	}
	if !resp.Sent() {
		return fmt.Errorf("apns send rejected: %s (%s)", resp.Reason, resp.ApnsID)
	}
	return nil
}
