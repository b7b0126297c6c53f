package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/felipemaragno/beacon/internal/observability"
)

// State is the delivery client's externally visible condition.
//
// Waiting means idle and reachable. Running means work is queued or in
// flight, or the network is unreachable even with an empty queue, so
// observers never see a premature idle notification while offline.
type State string

const (
	StateWaiting State = "waiting"
	StateRunning State = "running"
)

// StateObserver is notified on actual state changes only (edge-triggered).
type StateObserver func(State)

// Completion resolves one enqueued request.
type Completion func(*Response, error)

// DefaultRequestTimeout is the per-request network timeout.
const DefaultRequestTimeout = 10 * time.Second

type outbound struct {
	req  *Request
	done Completion
}

// Client owns a FIFO queue of outbound requests and sends exactly one at a
// time. A second Enqueue while sending appends; it never jumps the queue.
// The client does not retry failed sends; retry is re-entry through the
// durable repository.
type Client struct {
	transport Transport
	reach     Reachability
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu        sync.Mutex
	queue     []outbound
	sending   bool
	reachable bool
	state     State
	observers []StateObserver
}

func NewClient(transport Transport, reach Reachability, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		transport: transport,
		reach:     reach,
		timeout:   DefaultRequestTimeout,
		logger:    logger,
		reachable: true,
		state:     StateWaiting,
	}
	if reach != nil {
		reach.WhenReachable(c.becameReachable)
		reach.WhenUnreachable(c.becameUnreachable)
	}
	return c
}

// WithMetrics enables Prometheus metrics collection.
func (c *Client) WithMetrics(m *observability.Metrics) *Client {
	c.metrics = m
	return c
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Start begins reachability observation.
func (c *Client) Start() {
	if c.reach != nil {
		c.reach.StartNotifier()
	}
}

// Stop halts reachability observation. In-flight work is not cancelled.
func (c *Client) Stop() {
	if c.reach != nil {
		c.reach.StopNotifier()
	}
}

// Observe registers a state observer.
func (c *Client) Observe(fn StateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enqueue appends the request and, if the client is idle and reachable,
// starts draining. The completion fires exactly once, after the network
// round trip, before the next queued request is attempted.
func (c *Client) Enqueue(req *Request, done Completion) {
	c.mu.Lock()
	c.queue = append(c.queue, outbound{req: req, done: done})
	c.recordQueueDepthLocked()
	changed, state := c.recomputeLocked()
	start := !c.sending && c.reachable
	if start {
		c.sending = true
	}
	c.mu.Unlock()

	if changed {
		c.notify(state)
	}
	if start {
		go c.drain()
	}
}

func (c *Client) becameReachable() {
	c.mu.Lock()
	c.reachable = true
	changed, state := c.recomputeLocked()
	start := !c.sending && len(c.queue) > 0
	if start {
		c.sending = true
	}
	c.mu.Unlock()

	if changed {
		c.notify(state)
	}
	if start {
		go c.drain()
	}
}

func (c *Client) becameUnreachable() {
	c.mu.Lock()
	c.reachable = false
	changed, state := c.recomputeLocked()
	c.mu.Unlock()

	if changed {
		c.notify(state)
	}
}

// drain sends queued requests head-first until the queue empties or the
// network drops. Exactly one drain goroutine runs at a time (sending guard).
func (c *Client) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || !c.reachable {
			c.sending = false
			changed, state := c.recomputeLocked()
			c.mu.Unlock()
			if changed {
				c.notify(state)
			}
			return
		}
		head := c.queue[0]
		c.mu.Unlock()

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		resp, err := c.transport.Send(ctx, head.req)
		cancel()

		if c.metrics != nil {
			c.metrics.RequestsSent.Inc()
			c.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			c.logger.Debug("request failed", "request_id", head.req.ID, "error", err)
		}

		c.mu.Lock()
		c.queue = c.queue[1:]
		c.recordQueueDepthLocked()
		changed, state := c.recomputeLocked()
		c.mu.Unlock()
		if changed {
			c.notify(state)
		}

		// The next send never starts before this completion returns.
		head.done(resp, err)
	}
}

// recomputeLocked applies the state rule: waiting iff (queue empty and not
// sending) and reachable; otherwise running. Must hold mu.
func (c *Client) recomputeLocked() (bool, State) {
	state := StateRunning
	if len(c.queue) == 0 && !c.sending && c.reachable {
		state = StateWaiting
	}
	if state == c.state {
		return false, state
	}
	c.state = state
	return true, state
}

func (c *Client) notify(state State) {
	c.mu.Lock()
	observers := make([]StateObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func (c *Client) recordQueueDepthLocked() {
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(len(c.queue)))
	}
}
