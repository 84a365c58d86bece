package broker

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"notifications/internal/jobs"
)

type fakeEngine struct {
	ok     bool
	errMsg string
	calls  int
}

func (f *fakeEngine) Deliver(ctx context.Context, job jobs.Job) (bool, string) {
	f.calls++
	return f.ok, f.errMsg
}

type statusCall struct {
	notificationID string
	status         jobs.Status
	errMsg         string
	retryCount     int
	service        jobs.Channel
}

type fakeStore struct {
	calls []statusCall
}

func (f *fakeStore) SetStatus(ctx context.Context, notificationID string, status jobs.Status, errMsg string, retryCount int, service jobs.Channel) {
	f.calls = append(f.calls, statusCall{notificationID, status, errMsg, retryCount, service})
}

// fakeAcknowledger lets tests build an amqp.Delivery whose Ack/Nack/Reject
// calls are observable without a live channel.
type fakeAcknowledger struct {
	acked    bool
	rejected bool
	requeue  bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}

type capturedPublish struct {
	routingKey string
	body       []byte
}

func testConsumer(engine Deliverer, store StatusWriter) (*Consumer, *[]capturedPublish) {
	c := NewConsumer(Config{
		Channel:          jobs.ChannelEmail,
		QueueName:        "email.queue",
		RoutingKey:       "email",
		MaxRetryAttempts: 3,
	}, engine, store, jobs.DecodeEmail, jobs.EncodeEmail, zap.NewNop())

	var published []capturedPublish
	c.publishFn = func(ctx context.Context, routingKey string, body []byte) error {
		published = append(published, capturedPublish{routingKey, body})
		return nil
	}
	return c, &published
}

func delivery(body []byte) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Body: body, Acknowledger: ack}, ack
}

func TestHandleWritesPendingThenDeliveredStatus(t *testing.T) {
	engine := &fakeEngine{ok: true}
	store := &fakeStore{}
	c, _ := testConsumer(engine, store)

	body, _ := jobs.EncodeEmail(jobs.Job{NotificationID: "n1", Recipient: "a@x", TemplateCode: "welcome"})
	d, ack := delivery(body)

	c.handle(context.Background(), d)

	if engine.calls != 1 {
		t.Fatalf("expected one deliver call, got %d", engine.calls)
	}
	if len(store.calls) != 2 {
		t.Fatalf("expected pending then delivered status writes, got %d", len(store.calls))
	}
	if store.calls[0].status != jobs.StatusPending {
		t.Fatalf("expected first write to be pending, got %s", store.calls[0].status)
	}
	if store.calls[1].status != jobs.StatusDelivered {
		t.Fatalf("expected second write to be delivered, got %s", store.calls[1].status)
	}
	if !ack.acked {
		t.Fatalf("expected delivery to be acked on success")
	}
}

func TestHandleFailureBelowMaxRequeuesWithIncrementedRetryCount(t *testing.T) {
	engine := &fakeEngine{ok: false, errMsg: "smtp down"}
	store := &fakeStore{}
	c, published := testConsumer(engine, store)

	body, _ := jobs.EncodeEmail(jobs.Job{NotificationID: "n1", Recipient: "a@x", TemplateCode: "welcome", RetryCount: 1})
	d, ack := delivery(body)

	c.handle(context.Background(), d)

	if len(*published) != 1 {
		t.Fatalf("expected exactly one requeue publish, got %d", len(*published))
	}
	pub := (*published)[0]
	if pub.routingKey != "email" {
		t.Fatalf("expected requeue to the email routing key, got %s", pub.routingKey)
	}

	requeued, err := jobs.DecodeEmail(pub.body)
	if err != nil {
		t.Fatalf("failed to decode requeued body: %v", err)
	}
	if requeued.RetryCount != 2 {
		t.Fatalf("expected retry_count incremented to 2, got %d", requeued.RetryCount)
	}
	if !ack.acked {
		t.Fatalf("expected delivery to be acked after requeue publish")
	}
}

func TestHandleFailureAtMaxDeadLetters(t *testing.T) {
	engine := &fakeEngine{ok: false, errMsg: "permanent failure"}
	store := &fakeStore{}
	c, published := testConsumer(engine, store)

	body, _ := jobs.EncodeEmail(jobs.Job{NotificationID: "n1", Recipient: "a@x", TemplateCode: "welcome", RetryCount: 3})
	d, ack := delivery(body)

	c.handle(context.Background(), d)

	if len(*published) != 1 {
		t.Fatalf("expected exactly one dead-letter publish, got %d", len(*published))
	}
	pub := (*published)[0]
	if pub.routingKey != failedKey {
		t.Fatalf("expected dead-letter routing key %q, got %s", failedKey, pub.routingKey)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(pub.body, &record); err != nil {
		t.Fatalf("failed to decode dead-letter body: %v", err)
	}
	if record["final_error"] != "permanent failure" {
		t.Fatalf("expected final_error to be surfaced, got %+v", record["final_error"])
	}
	if record["user_email"] != "a@x" {
		t.Fatalf("expected email-channel dead-letter record to carry user_email, got %+v", record)
	}
	if !ack.acked {
		t.Fatalf("expected delivery to be acked after dead-letter publish")
	}
}

func TestHandleDecodeErrorDoesNotPanicOrCallEngine(t *testing.T) {
	engine := &fakeEngine{ok: true}
	store := &fakeStore{}
	c, published := testConsumer(engine, store)

	d, ack := delivery([]byte("not json"))
	c.handle(context.Background(), d)

	if engine.calls != 0 {
		t.Fatalf("expected engine never invoked on decode failure, got %d calls", engine.calls)
	}
	if len(store.calls) != 0 {
		t.Fatalf("expected no status writes on decode failure, got %d", len(store.calls))
	}
	if len(*published) != 0 {
		t.Fatalf("expected no publishes on decode failure, got %d", len(*published))
	}
	if !ack.rejected || ack.requeue {
		t.Fatalf("expected decode failure to reject without requeue, got rejected=%v requeue=%v", ack.rejected, ack.requeue)
	}
}

func TestStopConsumingIsIdempotent(t *testing.T) {
	c, _ := testConsumer(&fakeEngine{}, &fakeStore{})
	c.StopConsuming()
	c.StopConsuming() // must not panic on double-close
	select {
	case <-c.stop:
	default:
		t.Fatalf("expected stop channel to be closed")
	}
}
