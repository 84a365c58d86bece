// Package broker declares the durable queue topology and runs the
// consume loop: one goroutine per in-flight message, bounded by
// prefetch, invoking the Delivery Engine and then requeueing or
// dead-lettering the job depending on its retry count.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"notifications/internal/jobs"
	"notifications/internal/metrics"
)

const (
	exchangeName   = "notifications.direct"
	failedQueue    = "failed.queue"
	failedKey      = "failed"
	messageTTLMs   = 86_400_000 // 24h
	connectTimeout = 10 * time.Second
)

// Decoder turns a raw message body into a Job.
type Decoder func([]byte) (jobs.Job, error)

// Encoder turns a Job back into its channel's wire shape.
type Encoder func(jobs.Job) ([]byte, error)

// Deliverer is the subset of delivery.Engine the Consumer depends on.
type Deliverer interface {
	Deliver(ctx context.Context, job jobs.Job) (ok bool, errMsg string)
}

// StatusWriter is the subset of statusstore.Store the Consumer needs.
type StatusWriter interface {
	SetStatus(ctx context.Context, notificationID string, status jobs.Status, errMsg string, retryCount int, service jobs.Channel)
}

// Config configures a Consumer for one channel.
type Config struct {
	AMQPURL          string
	Channel          jobs.Channel // "email" or "push"
	QueueName        string       // "email.queue" or "push.queue"
	RoutingKey       string       // "email" or "push"
	PrefetchCount    int
	MaxRetryAttempts int
}

// Consumer pulls messages from one channel queue, delivers them, and
// requeues or dead-letters on failure.
type Consumer struct {
	cfg    Config
	engine Deliverer
	store  StatusWriter
	logger *zap.Logger
	decode Decoder
	encode Encoder

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	// publishFn defaults to c.publishAMQP; tests substitute a fake so
	// requeue/dead-letter decisions can be verified without a live broker.
	publishFn func(ctx context.Context, routingKey string, body []byte) error

	// inFlight bounds concurrent handlers to PrefetchCount: one goroutine
	// per in-flight message, never more than the broker has granted us
	// unacked capacity for.
	inFlight chan struct{}
	handlers sync.WaitGroup

	stop chan struct{}
}

// NewConsumer builds a Consumer. decode/encode must match cfg.Channel.
func NewConsumer(cfg Config, engine Deliverer, store StatusWriter, decode Decoder, encode Encoder, logger *zap.Logger) *Consumer {
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 10
	}
	c := &Consumer{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		logger:   logger,
		decode:   decode,
		encode:   encode,
		inFlight: make(chan struct{}, cfg.PrefetchCount),
		stop:     make(chan struct{}),
	}
	c.publishFn = c.publishAMQP
	return c
}

// Connect dials the broker, declares the topology, and connects the
// status store. Must be called before Consume.
func (c *Consumer) Connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.cfg.AMQPURL, amqp.Config{
		Dial: amqp.DefaultDial(connectTimeout),
	})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := declareTopology(ch, c.cfg.QueueName, c.cfg.RoutingKey, c.cfg.PrefetchCount); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	// An unreachable status store is non-fatal: status writes retry the
	// connection lazily.
	if h, ok := c.store.(interface{ Health(context.Context) bool }); ok && !h.Health(ctx) {
		c.logger.Warn("status store unavailable at broker connect")
	}

	c.logger.Info("connected to broker",
		zap.String("exchange", exchangeName),
		zap.String("queue", c.cfg.QueueName),
		zap.Int("prefetch", c.cfg.PrefetchCount),
	)
	return nil
}

// declareTopology declares the exchange, the channel queue with its
// DLX arguments, and the failed queue.
func declareTopology(ch *amqp.Channel, queueName, routingKey string, prefetch int) error {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    exchangeName,
		"x-dead-letter-routing-key": failedKey,
		"x-message-ttl":             int32(messageTTLMs),
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queueName, err)
	}

	if _, err := ch.QueueDeclare(failedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare failed queue: %w", err)
	}
	if err := ch.QueueBind(failedQueue, failedKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind failed queue: %w", err)
	}

	return nil
}

// Consume runs the consume loop until ctx is cancelled or
// StopConsuming is called. It blocks for the lifetime of the loop. On
// connection loss it reconnects with exponential backoff
// (github.com/cenkalti/backoff/v4) and resumes consuming.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		err := c.consumeSession(ctx)
		if err == nil {
			return nil // clean shutdown
		}
		select {
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("broker consumer lost connection, reconnecting", zap.Error(err))
		if rerr := c.reconnect(ctx); rerr != nil {
			return rerr
		}
	}
}

func (c *Consumer) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry until ctx is cancelled or Close is called

	return backoff.Retry(func() error {
		select {
		case <-c.stop:
			return backoff.Permanent(fmt.Errorf("consumer stopped"))
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err))
			return err
		}
		c.logger.Info("reconnected to broker")
		return nil
	}, backoff.WithContext(b, ctx))
}

func (c *Consumer) consumeSession(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("broker channel is nil")
	}

	deliveries, err := ch.Consume(c.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	for {
		select {
		case <-c.stop:
			c.handlers.Wait()
			return nil
		case <-ctx.Done():
			c.handlers.Wait()
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				c.handlers.Wait()
				return fmt.Errorf("delivery channel closed")
			}
			c.dispatch(ctx, delivery)
		}
	}
}

// dispatch acquires an in-flight slot and runs handle on its own
// goroutine, applying back-pressure once PrefetchCount handlers are
// already running so we never hold more unacked messages than the
// broker granted us via Qos.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	select {
	case c.inFlight <- struct{}{}:
	case <-c.stop:
		d.Nack(false, true)
		return
	case <-ctx.Done():
		d.Nack(false, true)
		return
	}

	c.handlers.Add(1)
	metrics.SetQueueDepth(c.cfg.QueueName, len(c.inFlight))
	go func() {
		defer c.handlers.Done()
		defer func() {
			<-c.inFlight
			metrics.SetQueueDepth(c.cfg.QueueName, len(c.inFlight))
		}()
		c.handle(ctx, d)
	}()
}

// handle processes one message end to end: decode, pending status,
// deliver, delivered/failed status, requeue-or-dead-letter, ack. Status
// writes happen strictly before the ack, so a message is never acked
// without its status having been written; a crash between the two
// leaves the message unacked and the broker redelivers it.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	job, err := c.decode(d.Body)
	if err != nil {
		c.logger.Error("failed to decode job body, rejecting to DLX", zap.Error(err))
		d.Reject(false)
		return
	}

	correlationID := job.CorrelationID()
	logger := c.logger.With(zap.String("correlation_id", correlationID), zap.String("notification_id", job.NotificationID))

	c.store.SetStatus(ctx, job.NotificationID, jobs.StatusPending, "", job.RetryCount, c.cfg.Channel)

	ok, errMsg := c.engine.Deliver(ctx, job)

	if ok {
		c.store.SetStatus(ctx, job.NotificationID, jobs.StatusDelivered, "", job.RetryCount, c.cfg.Channel)
		logger.Info("notification delivered")
		if err := d.Ack(false); err != nil {
			logger.Error("failed to ack delivered message", zap.Error(err))
		}
		return
	}

	c.store.SetStatus(ctx, job.NotificationID, jobs.StatusFailed, errMsg, job.RetryCount, c.cfg.Channel)

	if job.RetryCount < c.cfg.MaxRetryAttempts {
		if err := c.requeue(ctx, job); err != nil {
			logger.Error("failed to requeue job", zap.Error(err))
		} else {
			logger.Info("job requeued with incremented retry_count", zap.Int("retry_count", job.RetryCount+1))
		}
	} else {
		if err := c.deadLetter(ctx, job, errMsg); err != nil {
			logger.Error("failed to publish dead-letter record", zap.Error(err))
		} else {
			metrics.IncDeadLetter(string(c.cfg.Channel))
			logger.Error("job permanently failed, sent to dead-letter", zap.String("final_error", errMsg))
		}
	}

	if err := d.Ack(false); err != nil {
		logger.Error("failed to ack failed message", zap.Error(err))
	}
}

func (c *Consumer) requeue(ctx context.Context, job jobs.Job) error {
	job.RetryCount++
	body, err := c.encode(job)
	if err != nil {
		return fmt.Errorf("encode requeued job: %w", err)
	}
	return c.publishFn(ctx, c.cfg.RoutingKey, body)
}

func (c *Consumer) deadLetter(ctx context.Context, job jobs.Job, finalError string) error {
	body, err := jobs.MarshalDeadLetter(c.cfg.Channel, job, finalError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode dead-letter record: %w", err)
	}
	return c.publishFn(ctx, failedKey, body)
}

// publishAMQP is mutex-guarded: amqp091-go channels are not safe for
// concurrent use, and this channel is shared by every handler
// goroutine plus the consume loop.
func (c *Consumer) publishAMQP(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return fmt.Errorf("broker channel is nil")
	}
	return c.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// StopConsuming flips a flag the consume loop checks on each pull; the
// in-flight handler finishes its current job before the loop exits.
func (c *Consumer) StopConsuming() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Close closes the broker connection idempotently.
func (c *Consumer) Close() error {
	c.StopConsuming()
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}
