package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// AndroidSender dispatches via Firebase Cloud Messaging using
// firebase.google.com/go/v4/messaging.
type AndroidSender struct {
	client *messaging.Client
}

// NewAndroidSender builds an AndroidSender from a service-account
// credentials file path.
func NewAndroidSender(ctx context.Context, credentialsFile string) (*AndroidSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging client: %w", err)
	}
	return &AndroidSender{client: client}, nil
}

func (s *AndroidSender) Send(ctx context.Context, token, title, body string, variables map[string]interface{}) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: Stringify(variables),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
