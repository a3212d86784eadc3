// ABOUTME: Tests for the envelope subscriber's dispatch flow
// ABOUTME: Validates retry re-publish, dead-lettering, and dedup drops

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loomtrace-io/loomtrace/internal/consume"
	"github.com/loomtrace-io/loomtrace/internal/dedup"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
	"github.com/loomtrace-io/loomtrace/internal/observability"
)

var testFactory = envelope.Factory{SourceService: "subscriber-test"}

// fakePublisher records publishes instead of touching a broker.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	err       error
}

type publishedMsg struct {
	subject string
	env     envelope.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, env envelope.Envelope) error {
	return f.PublishTo(ctx, env.Subject(), env)
}

func (f *fakePublisher) PublishTo(ctx context.Context, subject string, env envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMsg{subject: subject, env: env})
	return nil
}

func (f *fakePublisher) all() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMsg(nil), f.published...)
}

func newTestSubscriber(t *testing.T, handler Handler, pub EnvelopePublisher, store *dedup.Store) (*Subscriber, *observability.Metrics) {
	t.Helper()

	metrics := observability.NewMetrics()
	sub, err := NewSubscriber(SubscriberConfig{
		Config:    Config{Subject: "test.events.>", DLQSubject: "test.dlq"},
		Handler:   handler,
		Publisher: pub,
		Dedup:     store,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error: %v", err)
	}
	return sub, metrics
}

func encode(t *testing.T, env envelope.Envelope) []byte {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return data
}

func TestNewSubscriber_RequiresHandler(t *testing.T) {
	t.Parallel()

	if _, err := NewSubscriber(SubscriberConfig{}); err == nil {
		t.Error("NewSubscriber() without a handler should fail")
	}
}

func TestHandleMessage_BindsEnvelopeContext(t *testing.T) {
	t.Parallel()

	var inside string
	sub, metrics := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		inside = consume.CurrentCorrelationID(ctx)
		return nil
	}, &fakePublisher{}, nil)

	env := testFactory.New(context.Background(), "OrderCreated", "{}", envelope.WithCorrelationID("T9"))
	sub.handleMessage(context.Background(), encode(t, env))

	if inside != "T9" {
		t.Errorf("handler saw correlation ID %q, want %q", inside, "T9")
	}
	if got := metrics.Snapshot().EnvelopesConsumed; got != 1 {
		t.Errorf("EnvelopesConsumed = %d, want 1", got)
	}
}

func TestHandleMessage_SuccessDoesNotRepublish(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sub, _ := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		return nil
	}, pub, nil)

	env := testFactory.New(context.Background(), "OrderCreated", "{}")
	sub.handleMessage(context.Background(), encode(t, env))

	if got := pub.all(); len(got) != 0 {
		t.Errorf("successful delivery should publish nothing, got %d", len(got))
	}
}

func TestHandleMessage_FailureRepublishesRetry(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sub, metrics := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		return errors.New("handler failed")
	}, pub, nil)

	env := testFactory.New(context.Background(), "OrderCreated", "{}", envelope.WithCorrelationID("T1"))
	sub.handleMessage(context.Background(), encode(t, env))

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one retry publish, got %d", len(got))
	}
	retry := got[0].env
	if retry.RetryCount != env.RetryCount+1 {
		t.Errorf("retry RetryCount = %d, want %d", retry.RetryCount, env.RetryCount+1)
	}
	if retry.EnvelopeID == env.EnvelopeID {
		t.Error("retry should carry a fresh envelope ID")
	}
	if retry.CorrelationID != "T1" {
		t.Errorf("retry CorrelationID = %q, want %q", retry.CorrelationID, "T1")
	}
	if got[0].subject != env.Subject() {
		t.Errorf("retry published to %q, want %q", got[0].subject, env.Subject())
	}
	if metrics.Snapshot().Retries != 1 {
		t.Errorf("Retries = %d, want 1", metrics.Snapshot().Retries)
	}
}

func TestHandleMessage_ExhaustedGoesToDLQ(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sub, metrics := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		return errors.New("handler failed")
	}, pub, nil)

	env := testFactory.New(context.Background(), "OrderCreated", "{}", envelope.WithMaxRetries(1))
	exhausted := env.Retry() // retry_count 1 == max_retries
	sub.handleMessage(context.Background(), encode(t, exhausted))

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("expected one dead-letter publish, got %d", len(got))
	}
	if got[0].subject != "test.dlq" {
		t.Errorf("dead-letter subject = %q, want %q", got[0].subject, "test.dlq")
	}
	// The envelope is dead-lettered unchanged.
	if got[0].env.EnvelopeID != exhausted.EnvelopeID || got[0].env.RetryCount != exhausted.RetryCount {
		t.Error("dead-lettered envelope should be the delivered one, unchanged")
	}
	if metrics.Snapshot().DeadLetters != 1 {
		t.Errorf("DeadLetters = %d, want 1", metrics.Snapshot().DeadLetters)
	}
}

func TestHandleMessage_ExpiredGoesToDLQ(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sub, _ := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		return errors.New("handler failed")
	}, pub, nil)

	env := testFactory.New(context.Background(), "OrderCreated", "{}",
		envelope.WithExpiresAt(time.Now().Add(-time.Minute)),
	)
	sub.handleMessage(context.Background(), encode(t, env))

	got := pub.all()
	if len(got) != 1 || got[0].subject != "test.dlq" {
		t.Fatalf("expired envelope should be dead-lettered even at retry_count 0, got %+v", got)
	}
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	called := false
	sub, metrics := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		called = true
		return nil
	}, pub, nil)

	sub.handleMessage(context.Background(), []byte("not an envelope"))

	if called {
		t.Error("handler should not run for a malformed payload")
	}
	if len(pub.all()) != 0 {
		t.Error("malformed payload should not be republished")
	}
	if metrics.Snapshot().EnvelopesConsumed != 0 {
		t.Error("malformed payload should not count as consumed")
	}
}

func TestHandleMessage_DuplicateDropped(t *testing.T) {
	t.Parallel()

	store, err := dedup.Open(dedup.Config{InMemory: true})
	if err != nil {
		t.Fatalf("dedup.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	calls := 0
	sub, metrics := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		calls++
		return nil
	}, &fakePublisher{}, store)

	env := testFactory.New(context.Background(), "OrderCreated", "{}")
	data := encode(t, env)

	sub.handleMessage(context.Background(), data)
	sub.handleMessage(context.Background(), data)

	if calls != 1 {
		t.Errorf("handler ran %d times for the same envelope ID, want 1", calls)
	}
	if got := metrics.Snapshot().DedupDrops; got != 1 {
		t.Errorf("DedupDrops = %d, want 1", got)
	}
}

func TestHandleMessage_FailedDeliveryNotMarkedProcessed(t *testing.T) {
	t.Parallel()

	store, err := dedup.Open(dedup.Config{InMemory: true})
	if err != nil {
		t.Fatalf("dedup.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	calls := 0
	sub, _ := newTestSubscriber(t, func(ctx context.Context, env envelope.Envelope) error {
		calls++
		return errors.New("handler failed")
	}, &fakePublisher{}, store)

	env := testFactory.New(context.Background(), "OrderCreated", "{}")
	data := encode(t, env)

	sub.handleMessage(context.Background(), data)
	sub.handleMessage(context.Background(), data)

	// A failed attempt is not marked processed; redelivery runs the handler.
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestConfig_DLQDefault(t *testing.T) {
	t.Parallel()

	cfg := Config{Subject: "orders.events.>"}
	cfg.setDefaults()

	if cfg.DLQSubject != "orders.events-dlq" {
		t.Errorf("derived DLQSubject = %q, want %q", cfg.DLQSubject, "orders.events-dlq")
	}
}
