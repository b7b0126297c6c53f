package pubsub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/retry"
)

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0,
		MaxAttempts:     maxAttempts,
	}
}

type outcomeRecorder struct {
	mu       sync.Mutex
	results  []bool
	resolved chan struct{}
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{resolved: make(chan struct{}, 16)}
}

func (o *outcomeRecorder) DeliveryResult(_, _ string, delivered bool) {
	o.mu.Lock()
	o.results = append(o.results, delivered)
	o.mu.Unlock()
	o.resolved <- struct{}{}
}

func (o *outcomeRecorder) wait(t *testing.T) bool {
	t.Helper()
	select {
	case <-o.resolved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery outcome")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[len(o.results)-1]
}

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	delivered := make(chan *Message, 1)
	broker.Subscribe("default", SubscriberFunc(func(msg *Message) error {
		delivered <- msg
		return nil
	}))

	publisher := newOutcomeRecorder()
	broker.RegisterPublisher(publisher)

	id, err := broker.Publish("default", map[string]any{"kind": "ping"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-delivered:
		if msg.ID != id {
			t.Fatalf("delivered message id = %s, want %s", msg.ID, id)
		}
		if msg.Body["kind"] != "ping" {
			t.Fatalf("body = %v", msg.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the message")
	}

	if !publisher.wait(t) {
		t.Fatal("publisher notified of failure, want success")
	}
	if broker.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", broker.Pending())
	}
}

func TestBroker_PublishUnroutableTopic(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	if _, err := broker.Publish("nobody-home", nil); !errors.Is(err, ErrUnroutableTopic) {
		t.Fatalf("err = %v, want ErrUnroutableTopic", err)
	}
	if broker.Pending() != 0 {
		t.Fatal("unroutable publish left a pending record")
	}
}

func TestBroker_RedeliveryAfterTransientFailure(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	var mu sync.Mutex
	calls := 0
	broker.Subscribe("flaky", SubscriberFunc(func(*Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}))

	publisher := newOutcomeRecorder()
	broker.RegisterPublisher(publisher)

	if _, err := broker.Publish("flaky", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if !publisher.wait(t) {
		t.Fatal("delivery failed, want success on second attempt")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("subscriber calls = %d, want 2", calls)
	}
}

func TestBroker_PermanentFailureAfterMaxAttempts(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(2), clock.RealClock{}, nil)
	defer broker.Stop()

	var mu sync.Mutex
	calls := 0
	broker.Subscribe("down", SubscriberFunc(func(*Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("still down")
	}))

	publisher := newOutcomeRecorder()
	broker.RegisterPublisher(publisher)

	if _, err := broker.Publish("down", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if publisher.wait(t) {
		t.Fatal("delivery succeeded, want permanent failure")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("subscriber calls = %d, want exactly MaxAttempts", calls)
	}
	if broker.Pending() != 0 {
		t.Fatal("failed message still pending, count must drain on failure too")
	}
}

func TestBroker_QueueEmptyFiresAtZero(t *testing.T) {
	registrar := NewInMemoryRegistrar()
	broker := NewBroker(registrar, fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	gate := make(chan struct{})
	broker.Subscribe("default", SubscriberFunc(func(*Message) error {
		<-gate
		return nil
	}))

	empty := make(chan struct{}, 4)
	broker.OnQueueEmpty(func() { empty <- struct{}{} })

	if _, err := broker.Publish("default", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := broker.Publish("default", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-empty:
		t.Fatal("queue-empty fired with messages still pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)

	select {
	case <-empty:
	case <-time.After(2 * time.Second):
		t.Fatal("queue-empty never fired after drain")
	}
	if registrar.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", registrar.Pending())
	}
}

func TestBroker_SuspendHoldsDeliveryUntilResume(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	delivered := make(chan struct{}, 1)
	broker.Subscribe("default", SubscriberFunc(func(*Message) error {
		delivered <- struct{}{}
		return nil
	}))

	broker.Suspend()

	if _, err := broker.Publish("default", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("message delivered while suspended")
	case <-time.After(100 * time.Millisecond):
	}

	broker.Resume()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("held message not delivered after resume")
	}
}

func TestBroker_SubscribeAfterSuspendStaysSuspended(t *testing.T) {
	broker := NewBroker(NewInMemoryRegistrar(), fastPolicy(5), clock.RealClock{}, nil)
	defer broker.Stop()

	broker.Suspend()

	delivered := make(chan struct{}, 1)
	broker.Subscribe("late", SubscriberFunc(func(*Message) error {
		delivered <- struct{}{}
		return nil
	}))

	if _, err := broker.Publish("late", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("deliverer created after Suspend was not suspended")
	case <-time.After(100 * time.Millisecond):
	}

	broker.Resume()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after resume")
	}
}
