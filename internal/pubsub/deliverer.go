package pubsub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/retry"
)

const delivererQueueSize = 256

// backpressureDelay reschedules a message held back by the open breaker.
// Backpressure is not a delivery failure and does not consume the retry
// budget.
const backpressureDelay = time.Second

// OutcomeFunc resolves one message's delivery, exactly once.
type OutcomeFunc func(msg *Message, delivered bool)

// Deliverer owns one topic's delivery loop: a single goroutine draining a
// queue, guarded by a circuit breaker, with policy-driven redelivery on
// failure. It can be suspended and resumed with the rest of the system.
type Deliverer struct {
	topic   string
	policy  retry.Policy
	clk     clock.Clock
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	outcome OutcomeFunc

	queue chan *Message
	done  chan struct{}
	wg    sync.WaitGroup

	mu          sync.Mutex
	cond        *sync.Cond
	subscribers []Subscriber
	suspended   bool
	stopped     bool
}

func NewDeliverer(topic string, policy retry.Policy, clk clock.Clock, logger *slog.Logger, outcome OutcomeFunc) *Deliverer {
	d := &Deliverer{
		topic:   topic,
		policy:  policy,
		clk:     clk,
		logger:  logger.With("topic", topic),
		outcome: outcome,
		queue:   make(chan *Message, delivererQueueSize),
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        topic,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Info("delivery breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return d
}

func (d *Deliverer) AddSubscriber(s Subscriber) {
	d.mu.Lock()
	d.subscribers = append(d.subscribers, s)
	d.mu.Unlock()
}

func (d *Deliverer) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts the delivery loop. Queued messages stay unresolved.
func (d *Deliverer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.done)
	d.cond.Broadcast()
	d.wg.Wait()
}

// Suspend pauses delivery; queued and newly published messages are held.
func (d *Deliverer) Suspend() {
	d.mu.Lock()
	d.suspended = true
	d.mu.Unlock()
}

// Resume restarts delivery of held messages.
func (d *Deliverer) Resume() {
	d.mu.Lock()
	d.suspended = false
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Enqueue hands a message to the delivery loop. A full queue drops the
// message and resolves it as failed rather than blocking the caller.
func (d *Deliverer) Enqueue(msg *Message) {
	select {
	case d.queue <- msg:
	default:
		d.logger.Error("delivery queue full, dropping message", "message_id", msg.ID)
		d.outcome(msg, false)
	}
}

func (d *Deliverer) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case msg := <-d.queue:
			if !d.waitResumed() {
				return
			}
			d.attempt(msg)
		}
	}
}

// waitResumed blocks while suspended. Reports false when stopped.
func (d *Deliverer) waitResumed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.suspended && !d.stopped {
		d.cond.Wait()
	}
	return !d.stopped
}

func (d *Deliverer) attempt(msg *Message) {
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.fanout(msg)
	})
	if err == nil {
		d.outcome(msg, true)
		return
	}

	// An open breaker is backpressure, not a failed attempt.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		d.logger.Debug("delivery held by breaker", "message_id", msg.ID)
		d.clk.AfterFunc(backpressureDelay, func() { d.Enqueue(msg) })
		return
	}

	msg.Attempt++
	if msg.Attempt >= d.policy.MaxAttempts {
		d.logger.Warn("message failed permanently",
			"message_id", msg.ID,
			"attempts", msg.Attempt,
			"error", err,
		)
		d.outcome(msg, false)
		return
	}

	delay := d.policy.CalculateDelay(msg.Attempt)
	d.logger.Debug("scheduling redelivery",
		"message_id", msg.ID,
		"attempt", msg.Attempt,
		"delay", delay,
	)
	d.clk.AfterFunc(delay, func() { d.Enqueue(msg) })
}

func (d *Deliverer) fanout(msg *Message) error {
	d.mu.Lock()
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.Unlock()

	var lastErr error
	for _, s := range subscribers {
		if err := s.Consume(msg); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
