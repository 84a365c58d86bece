package push

import "context"

// Dispatcher routes a push send to the Android or iOS sender. Either
// field may be nil when that platform was never configured; Send then
// returns ErrNotConfigured for jobs routed there, which the delivery
// engine treats as terminal.
type Dispatcher struct {
	Android Sender
	IOS     Sender
}

// Send picks the platform sender using the job's explicit platform
// when set, falling back to DetectPlatform's token-shape heuristic
// otherwise.
func (d *Dispatcher) Send(ctx context.Context, token, title, body string, variables map[string]interface{}, platform string) error {
	if platform == "" {
		platform = DetectPlatform(token)
	}

	var sender Sender
	switch platform {
	case "ios":
		sender = d.IOS
	default:
		sender = d.Android
	}

	if sender == nil {
		return ErrNotConfigured
	}
	return sender.Send(ctx, token, title, body, variables)
}
