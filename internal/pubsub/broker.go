package pubsub

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/observability"
	"github.com/felipemaragno/beacon/internal/retry"
)

// Broker is the public face of the pub/sub system. Subscribing to a topic
// creates that topic's dispatcher and deliverer; publishing accepts the
// message durably and routes it. Suspend and Resume act on every deliverer
// at once.
type Broker struct {
	registrar Registrar
	sorter    *Sorter
	policy    retry.Policy
	clk       clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu         sync.Mutex
	deliverers map[string]*Deliverer
	publishers []Publisher
	suspended  bool
}

func NewBroker(registrar Registrar, policy retry.Policy, clk clock.Clock, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broker{
		registrar:  registrar,
		sorter:     NewSorter(),
		policy:     policy,
		clk:        clk,
		logger:     logger,
		deliverers: make(map[string]*Deliverer),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (b *Broker) WithMetrics(m *observability.Metrics) *Broker {
	b.metrics = m
	return b
}

// RegisterPublisher adds a publisher to be notified of every delivery
// outcome.
func (b *Broker) RegisterPublisher(p Publisher) {
	b.mu.Lock()
	b.publishers = append(b.publishers, p)
	b.mu.Unlock()
}

// Subscribe attaches a subscriber to a topic, creating and starting the
// topic's deliverer on first use.
func (b *Broker) Subscribe(topic string, s Subscriber) {
	b.delivererFor(topic).AddSubscriber(s)
}

// Publish durably accepts a message and routes it to the topic's deliverer.
// Publishing to a topic with no subscribers is an error; nothing is
// accepted.
func (b *Broker) Publish(topic string, body map[string]any) (string, error) {
	msg := &Message{ID: uuid.NewString(), Topic: topic, Body: body}

	if b.sorter.Dispatcher(topic) == nil {
		return "", fmt.Errorf("publish to %q: %w", topic, ErrUnroutableTopic)
	}
	if err := b.registrar.Accept(msg); err != nil {
		return "", fmt.Errorf("accepting message: %w", err)
	}
	if b.metrics != nil {
		b.metrics.MessagesPublished.WithLabelValues(topic).Inc()
	}

	if err := b.sorter.Route(msg); err != nil {
		b.registrar.NotReached(msg)
		return "", err
	}
	return msg.ID, nil
}

// OnQueueEmpty registers a hook fired whenever the pending count drains to
// zero.
func (b *Broker) OnQueueEmpty(fn func()) {
	b.registrar.OnQueueEmpty(fn)
}

// Pending returns the number of accepted but unresolved messages.
func (b *Broker) Pending() int {
	return b.registrar.Pending()
}

// Suspend holds delivery on every topic. Publishing stays open; held
// messages deliver on Resume.
func (b *Broker) Suspend() {
	b.mu.Lock()
	b.suspended = true
	deliverers := b.snapshot()
	b.mu.Unlock()

	for _, d := range deliverers {
		d.Suspend()
	}
	b.logger.Info("pubsub suspended")
}

// Resume restarts delivery on every topic.
func (b *Broker) Resume() {
	b.mu.Lock()
	b.suspended = false
	deliverers := b.snapshot()
	b.mu.Unlock()

	for _, d := range deliverers {
		d.Resume()
	}
	b.logger.Info("pubsub resumed")
}

// Stop halts every deliverer.
func (b *Broker) Stop() {
	b.mu.Lock()
	deliverers := b.snapshot()
	b.mu.Unlock()

	for _, d := range deliverers {
		d.Stop()
	}
}

func (b *Broker) delivererFor(topic string) *Deliverer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.deliverers[topic]; ok {
		return d
	}

	d := NewDeliverer(topic, b.policy, b.clk, b.logger, b.resolve)
	if b.suspended {
		d.Suspend()
	}
	d.Start()
	b.deliverers[topic] = d
	b.sorter.Attach(topic, NewDispatcher(topic, d))
	return d
}

// resolve feeds a deliverer outcome back through the registrar and out to
// publishers.
func (b *Broker) resolve(msg *Message, delivered bool) {
	if delivered {
		b.registrar.Reached(msg)
		if b.metrics != nil {
			b.metrics.MessagesDelivered.WithLabelValues(msg.Topic).Inc()
		}
	} else {
		b.registrar.NotReached(msg)
	}

	b.mu.Lock()
	publishers := make([]Publisher, len(b.publishers))
	copy(publishers, b.publishers)
	b.mu.Unlock()

	for _, p := range publishers {
		p.DeliveryResult(msg.Topic, msg.ID, delivered)
	}
}

// Locked section helper; caller holds mu.
func (b *Broker) snapshot() []*Deliverer {
	out := make([]*Deliverer, 0, len(b.deliverers))
	for _, d := range b.deliverers {
		out = append(out, d)
	}
	return out
}
