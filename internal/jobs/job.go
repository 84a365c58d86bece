// Package jobs defines the wire types shared by the email and push
// delivery pipelines: the enqueued job, the dead-letter record it turns
// into on terminal failure, and the status record written to the
// status store.
package jobs

import (
	"encoding/json"
	"time"
)

// Channel names the notification transport class.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Platform is the push target OS, when known up front.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Job is one notification delivery request consumed off the broker.
// Recipient holds the email address for the email channel, or the
// device token for the push channel.
type Job struct {
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	Recipient      string                 `json:"-"`
	TemplateCode   string                 `json:"template_code"`
	Variables      map[string]interface{} `json:"variables"`
	Priority       int                    `json:"priority"`
	RequestID      string                 `json:"request_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Platform       Platform               `json:"platform,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	RetryCount     int                    `json:"retry_count"`
}

// emailWire and pushWire mirror the channel-specific field names on
// the wire: email jobs carry user_email, push jobs carry push_token.
// Job.Recipient is the channel-agnostic in-memory view.
type emailWire struct {
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	UserEmail      string                 `json:"user_email"`
	TemplateCode   string                 `json:"template_code"`
	Variables      map[string]interface{} `json:"variables"`
	Priority       int                    `json:"priority"`
	RequestID      string                 `json:"request_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	RetryCount     int                    `json:"retry_count"`
}

type pushWire struct {
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	PushToken      string                 `json:"push_token"`
	TemplateCode   string                 `json:"template_code"`
	Variables      map[string]interface{} `json:"variables"`
	Priority       int                    `json:"priority"`
	RequestID      string                 `json:"request_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Platform       Platform               `json:"platform,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	RetryCount     int                    `json:"retry_count"`
}

// DecodeEmail decodes an email.queue message body into a Job.
func DecodeEmail(body []byte) (Job, error) {
	var w emailWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Job{}, err
	}
	return Job{
		NotificationID: w.NotificationID,
		UserID:         w.UserID,
		Recipient:      w.UserEmail,
		TemplateCode:   w.TemplateCode,
		Variables:      w.Variables,
		Priority:       w.Priority,
		RequestID:      w.RequestID,
		Metadata:       w.Metadata,
		CreatedAt:      w.CreatedAt,
		RetryCount:     w.RetryCount,
	}, nil
}

// EncodeEmail serializes a Job back to its email.queue wire shape, used
// when republishing with an incremented retry_count.
func EncodeEmail(j Job) ([]byte, error) {
	return json.Marshal(emailWire{
		NotificationID: j.NotificationID,
		UserID:         j.UserID,
		UserEmail:      j.Recipient,
		TemplateCode:   j.TemplateCode,
		Variables:      j.Variables,
		Priority:       j.Priority,
		RequestID:      j.RequestID,
		Metadata:       j.Metadata,
		CreatedAt:      j.CreatedAt,
		RetryCount:     j.RetryCount,
	})
}

// DecodePush decodes a push.queue message body into a Job.
func DecodePush(body []byte) (Job, error) {
	var w pushWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Job{}, err
	}
	return Job{
		NotificationID: w.NotificationID,
		UserID:         w.UserID,
		Recipient:      w.PushToken,
		TemplateCode:   w.TemplateCode,
		Variables:      w.Variables,
		Priority:       w.Priority,
		RequestID:      w.RequestID,
		Metadata:       w.Metadata,
		Platform:       w.Platform,
		CreatedAt:      w.CreatedAt,
		RetryCount:     w.RetryCount,
	}, nil
}

// EncodePush serializes a Job back to its push.queue wire shape.
func EncodePush(j Job) ([]byte, error) {
	return json.Marshal(pushWire{
		NotificationID: j.NotificationID,
		UserID:         j.UserID,
		PushToken:      j.Recipient,
		TemplateCode:   j.TemplateCode,
		Variables:      j.Variables,
		Priority:       j.Priority,
		RequestID:      j.RequestID,
		Metadata:       j.Metadata,
		Platform:       j.Platform,
		CreatedAt:      j.CreatedAt,
		RetryCount:     j.RetryCount,
	})
}

// CorrelationID is the request_id if present, else the notification_id,
// used to tag every log record within one message's handling scope.
func (j Job) CorrelationID() string {
	if j.RequestID != "" {
		return j.RequestID
	}
	return j.NotificationID
}

// DeadLetterRecord is a terminally failed job plus why and when.
type DeadLetterRecord struct {
	Job
	FinalError string    `json:"final_error"`
	FailedAt   time.Time `json:"failed_at"`
}

// MarshalDeadLetter encodes a dead-letter record for the given channel,
// preserving that channel's wire field names for Recipient.
func MarshalDeadLetter(ch Channel, j Job, finalError string, failedAt time.Time) ([]byte, error) {
	base := map[string]interface{}{
		"notification_id": j.NotificationID,
		"user_id":          j.UserID,
		"template_code":    j.TemplateCode,
		"variables":        j.Variables,
		"priority":         j.Priority,
		"created_at":       j.CreatedAt,
		"retry_count":      j.RetryCount,
		"final_error":      finalError,
		"failed_at":        failedAt,
	}
	if j.RequestID != "" {
		base["request_id"] = j.RequestID
	}
	if j.Metadata != nil {
		base["metadata"] = j.Metadata
	}
	switch ch {
	case ChannelEmail:
		base["user_email"] = j.Recipient
	case ChannelPush:
		base["push_token"] = j.Recipient
		if j.Platform != "" {
			base["platform"] = j.Platform
		}
	}
	return json.Marshal(base)
}

// Status is the lifecycle state recorded for a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// StatusRecord is written to the status store with a 24h TTL, key
// notification:status:<notification_id>.
type StatusRecord struct {
	NotificationID string    `json:"notification_id"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retry_count"`
	UpdatedAt      time.Time `json:"updated_at"`
	Service        Channel   `json:"service"`
}
