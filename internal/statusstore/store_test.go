package statusstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"notifications/internal/jobs"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(mr.Addr(), zap.NewNop()), mr
}

func TestSetAndGetStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.SetStatus(ctx, "n1", jobs.StatusPending, "", 0, jobs.ChannelEmail)

	rec, err := s.GetStatus(ctx, "n1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != jobs.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.Error != "" {
		t.Fatalf("expected no error field on pending record")
	}

	s.SetStatus(ctx, "n1", jobs.StatusFailed, "boom", 1, jobs.ChannelEmail)
	rec, err = s.GetStatus(ctx, "n1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != jobs.StatusFailed || rec.Error != "boom" {
		t.Fatalf("expected failed/boom, got %+v", rec)
	}
}

func TestGetStatusMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetStatus(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatusSwallowsConnectionFailure(t *testing.T) {
	s := New("127.0.0.1:1", zap.NewNop())
	// Must not panic and must return without error surfacing to caller.
	s.SetStatus(context.Background(), "n1", jobs.StatusPending, "", 0, jobs.ChannelPush)
}

func TestHealth(t *testing.T) {
	s, mr := newTestStore(t)
	if !s.Health(context.Background()) {
		t.Fatalf("expected healthy store")
	}
	mr.Close()
	if s.Health(context.Background()) {
		t.Fatalf("expected unhealthy store after close")
	}
}

func TestIdempotentMarker(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.IsIdempotent(ctx, "req-1")
	if err != nil || ok {
		t.Fatalf("expected not idempotent yet, err=%v ok=%v", err, ok)
	}
	if err := s.MarkIdempotent(ctx, "req-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err = s.IsIdempotent(ctx, "req-1")
	if err != nil || !ok {
		t.Fatalf("expected idempotent marker set, err=%v ok=%v", err, ok)
	}
}
