package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"notifications/internal/breaker"
	"notifications/internal/jobs"
	"notifications/internal/template"
)

type fakeFetcher struct {
	descriptor template.Descriptor
	err        error
	calls      int
}

func (f *fakeFetcher) Fetch(ctx context.Context, code string) (template.Descriptor, error) {
	f.calls++
	if f.err != nil {
		return template.Descriptor{}, f.err
	}
	return f.descriptor, nil
}

func testConfig() Config {
	return Config{MaxRetryAttempts: 3, RetryBaseDelay: 1 * time.Millisecond}
}

func newBreakers() (*breaker.Breaker, *breaker.Breaker) {
	return breaker.New(breaker.Config{Name: "template", FailureThreshold: 100, TimeoutSeconds: 60}),
		breaker.New(breaker.Config{Name: "provider", FailureThreshold: 100, TimeoutSeconds: 60})
}

func testJob() jobs.Job {
	return jobs.Job{
		NotificationID: "n1",
		Recipient:      "a@x",
		TemplateCode:   "welcome",
		Variables:      map[string]interface{}{"name": "Ada"},
	}
}

func TestDeliverHappyPath(t *testing.T) {
	tb, pb := newBreakers()
	fetcher := &fakeFetcher{descriptor: template.Descriptor{Code: "welcome", SubjectOrTitle: "Hi {{name}}", Body: "<p>Hello {{name}}</p>"}}

	var sentSubject, sentBody, sentTo string
	sendCalls := 0
	send := func(ctx context.Context, to, subject, body string, vars map[string]interface{}, platform string) error {
		sendCalls++
		sentTo, sentSubject, sentBody = to, subject, body
		return nil
	}

	e := NewEngine(testConfig(), fetcher, tb, send, pb, false, zap.NewNop())
	ok, errMsg := e.Deliver(context.Background(), testJob())
	if !ok || errMsg != "" {
		t.Fatalf("expected success, got ok=%v err=%q", ok, errMsg)
	}
	if sendCalls != 1 {
		t.Fatalf("expected exactly one send, got %d", sendCalls)
	}
	if sentTo != "a@x" || sentSubject != "Hi Ada" || sentBody != "<p>Hello Ada</p>" {
		t.Fatalf("unexpected send args: to=%q subject=%q body=%q", sentTo, sentSubject, sentBody)
	}
}

func TestDeliverRecoversOnSecondAttempt(t *testing.T) {
	tb, pb := newBreakers()
	fetcher := &fakeFetcher{descriptor: template.Descriptor{Code: "welcome", SubjectOrTitle: "Hi", Body: "Body"}}

	attempts := 0
	send := func(ctx context.Context, to, subject, body string, vars map[string]interface{}, platform string) error {
		attempts++
		if attempts == 1 {
			return errors.New("network blip")
		}
		return nil
	}

	e := NewEngine(testConfig(), fetcher, tb, send, pb, false, zap.NewNop())
	ok, errMsg := e.Deliver(context.Background(), testJob())
	if !ok || errMsg != "" {
		t.Fatalf("expected eventual success, got ok=%v err=%q", ok, errMsg)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 send attempts, got %d", attempts)
	}
	if pb.State().FailureCount != 0 {
		t.Fatalf("expected breaker failure count reset after success, got %d", pb.State().FailureCount)
	}
}

func TestDeliverExhaustsInnerRetries(t *testing.T) {
	tb, pb := newBreakers()
	fetcher := &fakeFetcher{descriptor: template.Descriptor{Code: "welcome", SubjectOrTitle: "Hi", Body: "Body"}}

	attempts := 0
	send := func(ctx context.Context, to, subject, body string, vars map[string]interface{}, platform string) error {
		attempts++
		return errors.New("permanent failure")
	}

	e := NewEngine(testConfig(), fetcher, tb, send, pb, false, zap.NewNop())
	ok, errMsg := e.Deliver(context.Background(), testJob())
	if ok {
		t.Fatalf("expected failure")
	}
	if errMsg != "permanent failure" {
		t.Fatalf("expected last error surfaced, got %q", errMsg)
	}
	if attempts != 3 {
		t.Fatalf("expected max_retry_attempts=3 send attempts, got %d", attempts)
	}
}

func TestDeliverShortCircuitsOnOpenBreaker(t *testing.T) {
	tb, pb := newBreakers()
	// Force the provider breaker open before delivery starts.
	pbOpen := breaker.New(breaker.Config{Name: "provider", FailureThreshold: 1, TimeoutSeconds: 60})
	_ = pbOpen.Call(context.Background(), func(context.Context) error { return errors.New("boom") })

	fetcher := &fakeFetcher{descriptor: template.Descriptor{Code: "welcome", SubjectOrTitle: "Hi", Body: "Body"}}

	sendCalls := 0
	send := func(ctx context.Context, to, subject, body string, vars map[string]interface{}, platform string) error {
		sendCalls++
		return nil
	}

	e := NewEngine(testConfig(), fetcher, tb, send, pbOpen, false, zap.NewNop())
	ok, errMsg := e.Deliver(context.Background(), testJob())
	if ok {
		t.Fatalf("expected failure due to open breaker")
	}
	if sendCalls != 0 {
		t.Fatalf("expected provider never invoked while breaker open, got %d calls", sendCalls)
	}
	if errMsg == "" {
		t.Fatalf("expected a circuit-open message")
	}
	_ = tb
	_ = pb
}

func TestDeliverRenderErrorIsTerminal(t *testing.T) {
	tb, pb := newBreakers()
	fetcher := &fakeFetcher{descriptor: template.Descriptor{Code: "broken", SubjectOrTitle: "{% if true %}unterminated", Body: ""}}

	sendCalls := 0
	send := func(ctx context.Context, to, subject, body string, vars map[string]interface{}, platform string) error {
		sendCalls++
		return nil
	}

	e := NewEngine(testConfig(), fetcher, tb, send, pb, false, zap.NewNop())
	ok, errMsg := e.Deliver(context.Background(), testJob())
	if ok {
		t.Fatalf("expected render error to fail delivery")
	}
	if sendCalls != 0 {
		t.Fatalf("expected provider never invoked on render error, got %d calls", sendCalls)
	}
	if errMsg == "" {
		t.Fatalf("expected render error message")
	}
}

func TestDeliverFetchFailureRetriesThenFails(t *testing.T) {
	tb, pb := newBreakers()
	fetcher := &fakeFetcher{err: errors.New("template service down")}

	e := NewEngine(testConfig(), fetcher, tb, func(context.Context, string, string, string, map[string]interface{}, string) error {
		return nil
	}, pb, false, zap.NewNop())

	ok, errMsg := e.Deliver(context.Background(), testJob())
	if ok {
		t.Fatalf("expected failure since fetch always errors")
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", fetcher.calls)
	}
	if errMsg != "template service down" {
		t.Fatalf("unexpected error message: %q", errMsg)
	}
}
