// Package push implements mobile push dispatch for the two vendor
// platforms: Android via Firebase Cloud Messaging, iOS via Apple Push
// Notification Service. Platform selection is
// explicit-field-or-token-heuristic, never per-provider state.
package push

import (
	"context"
	"errors"
)

// Sender dispatches a rendered title/body pair, plus the job's raw
// variables, to one device token.
type Sender interface {
	Send(ctx context.Context, token, title, body string, variables map[string]interface{}) error
}

// ErrNotConfigured is a terminal error returned when a platform sender
// was never built (e.g. no APNs key configured).
var ErrNotConfigured = errors.New("push provider not configured for this platform")

// DetectPlatform applies the token-format heuristic: a token that is
// exactly 64 hex characters is treated as iOS, otherwise Android.
func DetectPlatform(token string) string {
	if len(token) == 64 && isHex(token) {
		return "ios"
	}
	return "android"
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Stringify coerces arbitrary JSON-scalar variables to strings, as FCM
// data payloads require string values.
func Stringify(variables map[string]interface{}) map[string]string {
	out := make(map[string]string, len(variables))
	for k, v := range variables {
		out[k] = toString(v)
	}
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return jsonStringify(t)
	}
}
