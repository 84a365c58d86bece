// Package breaker implements the three-state circuit breaker that
// guards every remote peer (template service, providers) from
// cascading load: CLOSED -> OPEN after failure_threshold consecutive
// failures, OPEN -> HALF_OPEN after timeout_seconds, HALF_OPEN
// resolves to CLOSED or back to OPEN on the next outcome.
//
// The state is exposed as named fields (failure_count,
// last_failure_time, last_success_time) rather than a rolling window,
// since the admin circuits endpoint reports those fields verbatim. The state machine is small enough that
// sync.Mutex plus a handful of fields is the right tool for it.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitOpenError is returned by Call when the breaker is OPEN and
// not yet eligible for a probe.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %.0fs", e.Name, e.RetryAfter.Seconds())
}

// Config holds the tunables for one breaker instance.
type Config struct {
	Name              string
	FailureThreshold  int
	TimeoutSeconds    int
	RecoveryTimeout   int // seconds in HALF_OPEN before another probe; informational, mirrors source field
}

// Breaker is a process-local, peer-scoped circuit breaker. Safe for
// concurrent use by many handler goroutines.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Snapshot is the point-in-time view of a breaker's state, used by the
// admin /circuits endpoint.
type Snapshot struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	TimeoutSeconds   int        `json:"timeout_seconds"`
	LastFailureTime  *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime  *time.Time `json:"last_success_time,omitempty"`
	RetryAfter       *float64   `json:"retry_after_seconds,omitempty"`
}

// State returns a snapshot of the breaker's current state.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() Snapshot {
	s := Snapshot{
		Name:             b.cfg.Name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		TimeoutSeconds:   b.cfg.TimeoutSeconds,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		s.LastFailureTime = &t
	}
	if !b.lastSuccessTime.IsZero() {
		t := b.lastSuccessTime
		s.LastSuccessTime = &t
	}
	if b.state == Open {
		ra := b.retryAfterLocked().Seconds()
		s.RetryAfter = &ra
	}
	return s
}

func (b *Breaker) retryAfterLocked() time.Duration {
	if b.lastFailureTime.IsZero() {
		return 0
	}
	elapsed := time.Since(b.lastFailureTime)
	remaining := time.Duration(b.cfg.TimeoutSeconds)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Call executes op under the breaker's protection. It fails fast with
// a *CircuitOpenError when the breaker is OPEN and the timeout has not
// elapsed. ctx is only used to let op observe cancellation; the
// breaker itself does not impose a timeout.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := op(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	if time.Since(b.lastFailureTime) >= time.Duration(b.cfg.TimeoutSeconds)*time.Second {
		b.state = HalfOpen
		return nil
	}
	return &CircuitOpenError{Name: b.cfg.Name, RetryAfter: b.retryAfterLocked()}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.lastSuccessTime = time.Now()
		b.state = Closed
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		// A HALF_OPEN probe that fails reopens immediately, regardless
		// of failure_count versus threshold.
		b.state = Open
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
		}
	}
}

// Reset manually restores the breaker to CLOSED, for admin use.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// Name returns the breaker's peer name.
func (b *Breaker) Name() string { return b.cfg.Name }
