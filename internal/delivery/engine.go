// Package delivery implements the orchestration core shared by both
// workers: template fetch, render, and provider send, each guarded by
// its own circuit breaker, wrapped in a bounded inner retry loop with
// frozen exponential backoff.
package delivery

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"notifications/internal/breaker"
	"notifications/internal/jobs"
	"notifications/internal/metrics"
	"notifications/internal/provider/push"
	"notifications/internal/template"
)

// TemplateFetcher is the subset of template.Client the engine depends
// on, so tests can substitute a fake.
type TemplateFetcher interface {
	Fetch(ctx context.Context, templateCode string) (template.Descriptor, error)
}

// ProviderSend abstracts one channel's dispatch call so the engine
// doesn't need to know whether it is sending email or push; the
// concrete sender and the choice of which breaker(s) guard it live in
// the worker's wiring (internal/provider/*). platform is the job's
// declared platform ("ios"/"android"), empty for the email channel;
// a push dispatcher falls back to its token-shape heuristic when empty.
type ProviderSend func(ctx context.Context, recipient, subjectOrTitle, body string, variables map[string]interface{}, platform string) error

// Config tunes the inner retry loop.
type Config struct {
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration // base of base**attempt; seconds
}

// Engine orchestrates one channel's delivery pipeline. One Engine
// instance is owned by one Consumer and shared across all in-flight
// messages on that channel.
type Engine struct {
	cfg Config

	templateFetcher TemplateFetcher
	templateBreaker *breaker.Breaker
	providerSend    ProviderSend
	providerBreaker *breaker.Breaker
	stripHTML       bool
	channel         string

	logger *zap.Logger
}

// NewEngine builds a delivery engine. stripHTML should be true for the
// push channel, false for email.
func NewEngine(
	cfg Config,
	templateFetcher TemplateFetcher,
	templateBreaker *breaker.Breaker,
	providerSend ProviderSend,
	providerBreaker *breaker.Breaker,
	stripHTML bool,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	channel := "email"
	if stripHTML {
		channel = "push"
	}
	return &Engine{
		cfg:             cfg,
		templateFetcher: templateFetcher,
		templateBreaker: templateBreaker,
		providerSend:    providerSend,
		providerBreaker: providerBreaker,
		stripHTML:       stripHTML,
		channel:         channel,
		logger:          logger,
	}
}

// Deliver runs the bounded inner retry loop for one job. It never
// sleeps or retries past a CircuitOpenError — that error is returned
// immediately so the caller (the Consumer) can requeue or dead-letter
// without further provider load.
func (e *Engine) Deliver(ctx context.Context, job jobs.Job) (ok bool, errMsg string) {
	start := time.Now()
	defer func() {
		status := "failed"
		if ok {
			status = "delivered"
		}
		metrics.ObserveDelivery(e.channel, status, time.Since(start).Seconds())
	}()

	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetryAttempts; attempt++ {
		var descriptor template.Descriptor
		fetchErr := e.templateBreaker.Call(ctx, func(ctx context.Context) error {
			d, err := e.templateFetcher.Fetch(ctx, job.TemplateCode)
			if err != nil {
				return err
			}
			descriptor = d
			return nil
		})

		var openErr *breaker.CircuitOpenError
		if errors.As(fetchErr, &openErr) {
			return false, fetchErr.Error()
		}
		if fetchErr != nil {
			lastErr = fetchErr
			e.logger.Warn("template fetch failed",
				zap.String("notification_id", job.NotificationID),
				zap.Int("attempt", attempt),
				zap.Error(fetchErr))
			if !e.sleepBeforeRetry(ctx, attempt) {
				return false, lastErr.Error()
			}
			metrics.IncRetry(e.channel)
			continue
		}

		subjectOrTitle, body, renderErr := template.Render(descriptor, job.Variables, e.stripHTML)
		if renderErr != nil {
			// Render errors are terminal: malformed templates never
			// succeed on retry, and must not count against any breaker.
			return false, renderErr.Error()
		}

		sendErr := e.providerBreaker.Call(ctx, func(ctx context.Context) error {
			return e.providerSend(ctx, job.Recipient, subjectOrTitle, body, job.Variables, string(job.Platform))
		})

		if sendErr == nil {
			return true, ""
		}

		if errors.As(sendErr, &openErr) {
			return false, sendErr.Error()
		}
		if errors.Is(sendErr, push.ErrNotConfigured) {
			// Terminal misconfiguration: retrying will never help.
			return false, sendErr.Error()
		}

		lastErr = sendErr
		e.logger.Warn("provider send failed",
			zap.String("notification_id", job.NotificationID),
			zap.Int("attempt", attempt),
			zap.Error(sendErr))

		if !e.sleepBeforeRetry(ctx, attempt) {
			break
		}
		metrics.IncRetry(e.channel)
	}

	if lastErr == nil {
		lastErr = errors.New("delivery failed")
	}
	return false, lastErr.Error()
}

// sleepBeforeRetry sleeps retry_base_delay**attempt seconds before the
// next attempt, unless this was the last allowed attempt or ctx was
// cancelled. Returns false when the caller should stop retrying.
func (e *Engine) sleepBeforeRetry(ctx context.Context, attempt int) bool {
	if attempt >= e.cfg.MaxRetryAttempts {
		return false
	}
	delay := time.Duration(math.Pow(e.cfg.RetryBaseDelay.Seconds(), float64(attempt))) * time.Second
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
