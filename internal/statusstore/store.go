// Package statusstore records per-notification delivery status in
// Redis with a TTL, and reads it back for the admin API.
package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"notifications/internal/jobs"
)

const (
	statusTTL     = 24 * time.Hour
	templateTTL   = time.Hour
	idempotentTTL = 24 * time.Hour
)

// Store is a lazily-connected Redis-backed status cache. The zero
// value is not usable; construct with New.
type Store struct {
	addr   string
	logger *zap.Logger

	mu     singleflight.Group
	client *redis.Client
}

// New creates a Store that will connect to addr on first use.
func New(addr string, logger *zap.Logger) *Store {
	return &Store{addr: addr, logger: logger}
}

// connect lazily dials Redis, sharing one attempt across concurrent
// first-use callers via a single-flight latch.
func (s *Store) connect(ctx context.Context) (*redis.Client, error) {
	if c := s.client; c != nil {
		return c, nil
	}
	v, err, _ := s.mu.Do("connect", func() (interface{}, error) {
		if s.client != nil {
			return s.client, nil
		}
		c := redis.NewClient(&redis.Options{Addr: s.addr})
		if err := c.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to status store: %w", err)
		}
		s.client = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*redis.Client), nil
}

func statusKey(notificationID string) string {
	return "notification:status:" + notificationID
}

func templateKey(code string) string {
	return "template:" + code
}

func idempotentKey(requestID string) string {
	return "idempotent:" + requestID
}

// SetStatus writes the latest status for a notification. It is
// fire-and-forget: any connection or write failure is logged and
// swallowed. Callers MUST NOT treat its failure as a delivery failure.
func (s *Store) SetStatus(ctx context.Context, notificationID string, status jobs.Status, errMsg string, retryCount int, service jobs.Channel) {
	client, err := s.connect(ctx)
	if err != nil {
		s.logger.Warn("status store unavailable, skipping status write",
			zap.String("notification_id", notificationID), zap.Error(err))
		return
	}

	rec := jobs.StatusRecord{
		NotificationID: notificationID,
		Status:         status,
		RetryCount:     retryCount,
		UpdatedAt:      time.Now().UTC(),
		Service:        service,
	}
	if status == jobs.StatusFailed {
		rec.Error = errMsg
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to marshal status record", zap.Error(err))
		return
	}
	if err := client.Set(ctx, statusKey(notificationID), data, statusTTL).Err(); err != nil {
		s.logger.Warn("failed to write status record",
			zap.String("notification_id", notificationID), zap.Error(err))
	}
}

// ErrNotFound is returned by GetStatus when no record exists.
var ErrNotFound = errors.New("status record not found")

// GetStatus reads back the latest status record for a notification,
// used by the admin status-lookup endpoint.
func (s *Store) GetStatus(ctx context.Context, notificationID string) (jobs.StatusRecord, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return jobs.StatusRecord{}, err
	}
	data, err := client.Get(ctx, statusKey(notificationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return jobs.StatusRecord{}, ErrNotFound
	}
	if err != nil {
		return jobs.StatusRecord{}, err
	}
	var rec jobs.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return jobs.StatusRecord{}, err
	}
	return rec, nil
}

// Health pings the store for the admin /health endpoint.
func (s *Store) Health(ctx context.Context) bool {
	client, err := s.connect(ctx)
	if err != nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

// SetTemplateCache and GetTemplateCache expose an optional
// template:{code} cache. Nothing in the delivery path calls these
// today; they exist so a future optimization (or an operator script)
// can warm/inspect the cache without a new store API.
func (s *Store) SetTemplateCache(ctx context.Context, code string, data []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return client.Set(ctx, templateKey(code), data, templateTTL).Err()
}

func (s *Store) GetTemplateCache(ctx context.Context, code string) ([]byte, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, templateKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// MarkIdempotent and IsIdempotent expose an idempotent:{request_id}
// marker. Kept for an upstream producer to de-duplicate; intentionally
// not wired into the consumer's delivery path.
func (s *Store) MarkIdempotent(ctx context.Context, requestID string) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return client.Set(ctx, idempotentKey(requestID), "1", idempotentTTL).Err()
}

func (s *Store) IsIdempotent(ctx context.Context, requestID string) (bool, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, idempotentKey(requestID)).Result()
	return n > 0, err
}

// Close releases the underlying connection, if one was ever opened.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
