// Package executor glues the repository, bundler and delivery client into
// the end-to-end submit/resolve path.
//
// Two variants run side by side: the live executor (100ms bundling window,
// state-gated admission) handles fresh commands; the retry executor (1s
// window, pass-through admission) re-feeds durable commands left behind by a
// previous process run. Retry is not a loop, it is re-entry through the
// same bundler and delivery pipeline.
package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/felipemaragno/beacon/internal/bundler"
	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/domain"
	"github.com/felipemaragno/beacon/internal/observability"
	"github.com/felipemaragno/beacon/internal/repository"
	"github.com/felipemaragno/beacon/internal/resilience"
	"github.com/felipemaragno/beacon/internal/retry"
	"github.com/felipemaragno/beacon/internal/transport"
)

// CompletionFunc resolves one command's submission. Fired exactly once, with
// true on delivery and false on failure or rejection.
type CompletionFunc func(delivered bool)

// ResponseConsumer receives the parsed server directives of each successful
// batch, together with the originating request.
type ResponseConsumer interface {
	HandleResponse(payload map[string]any, req *transport.Request)
}

type consumerReg struct {
	consumer ResponseConsumer
	async    bool
}

// ConsumerOption configures consumer registration.
type ConsumerOption func(*consumerReg)

// WithAsyncDispatch delivers responses to the consumer on its own goroutine
// instead of synchronously on the delivery callback.
func WithAsyncDispatch() ConsumerOption {
	return func(r *consumerReg) { r.async = true }
}

// Config selects an executor variant.
type Config struct {
	AppKey    string
	AppInfo   transport.AppInfo
	Window    time.Duration
	BundleMax int
	Gated     bool
}

const defaultBundleMax = 50

// LiveConfig is the variant for fresh commands: near-real-time window,
// admission gated on application state.
func LiveConfig(appKey string, info transport.AppInfo) Config {
	return Config{
		AppKey:    appKey,
		AppInfo:   info,
		Window:    100 * time.Millisecond,
		BundleMax: defaultBundleMax,
		Gated:     true,
	}
}

// RetryConfig is the variant for resurrected commands: a wider window and no
// admission gate, since retries run regardless of application state.
func RetryConfig(appKey string, info transport.AppInfo) Config {
	return Config{
		AppKey:    appKey,
		AppInfo:   info,
		Window:    time.Second,
		BundleMax: defaultBundleMax,
		Gated:     false,
	}
}

// Executor accepts commands, registers them durably, bundles them and
// resolves delivery outcomes. On success durable records are removed; on
// failure they survive for the next process run's retry pass.
type Executor struct {
	config  Config
	repo    repository.CommandRepository
	client  *transport.Client
	breaker *resilience.CircuitBreaker
	clock   clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	bundler    *bundler.Bundler
	proxy      bundler.Proxy
	gate       *bundler.StateGated
	windowRule *bundler.TimeWindowRule

	mu          sync.Mutex
	completions map[string]CompletionFunc
	consumers   []consumerReg
	allExecuted []func()
}

func New(
	config Config,
	repo repository.CommandRepository,
	client *transport.Client,
	breaker *resilience.CircuitBreaker,
	clk clock.Clock,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.BundleMax == 0 {
		config.BundleMax = defaultBundleMax
	}

	e := &Executor{
		config:      config,
		repo:        repo,
		client:      client,
		breaker:     breaker,
		clock:       clk,
		logger:      logger,
		completions: make(map[string]CompletionFunc),
	}

	e.windowRule = bundler.NewTimeWindowRule(config.Window, clk)
	e.bundler = bundler.New(bundler.Config{
		Before: []bundler.BeforeRule{bundler.SameVisitorRule{}, bundler.SameSceneRule{}},
		After:  []bundler.AfterRule{bundler.CountRule{Max: config.BundleMax}},
		Async:  []bundler.AsyncRule{e.windowRule},
	}, e, logger)

	if config.Gated {
		e.gate = bundler.NewStateGated(e.bundler)
		e.proxy = e.gate
	} else {
		e.proxy = bundler.NewPassthrough(e.bundler)
	}
	return e
}

// WithMetrics enables Prometheus metrics collection.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	e.metrics = m
	return e
}

// Gate returns the state-gated proxy, or nil for the pass-through variant.
func (e *Executor) Gate() *bundler.StateGated {
	return e.gate
}

// RegisterConsumer adds a response consumer.
func (e *Executor) RegisterConsumer(c ResponseConsumer, opts ...ConsumerOption) {
	reg := consumerReg{consumer: c}
	for _, opt := range opts {
		opt(&reg)
	}
	e.mu.Lock()
	e.consumers = append(e.consumers, reg)
	e.mu.Unlock()
}

// OnAllExecuted registers a hook fired exactly once per bundle after every
// command's completion has resolved, on both the success and failure paths.
func (e *Executor) OnAllExecuted(fn func()) {
	e.mu.Lock()
	e.allExecuted = append(e.allExecuted, fn)
	e.mu.Unlock()
}

// AddCommand admits a command: always registers (best effort) and always
// forwards to the bundler. A duplicate registration is advisory only.
func (e *Executor) AddCommand(ctx context.Context, c *domain.Command, done CompletionFunc) {
	// Resurrected commands always have an existing row; the advisory is only
	// meaningful for duplicate fresh submissions.
	if !c.IsRetry {
		if registered, err := e.repo.IsRegistered(ctx, c.ID); err == nil && registered {
			e.logger.Warn("command already registered", "command_id", c.ID)
		}
	}
	if err := e.repo.Register(ctx, c); err != nil {
		// Durability is best effort; the command still proceeds in memory.
		e.logger.Error("failed to register command", "error", err, "command_id", c.ID)
	}

	if done != nil {
		e.mu.Lock()
		e.completions[c.ID] = done
		e.mu.Unlock()
	}
	if e.metrics != nil {
		e.metrics.CommandsTracked.Inc()
	}

	e.proxy.Add(c)
}

// Flush seals whatever the bundler currently holds. Called when the delivery
// client goes idle and on teardown.
func (e *Executor) Flush() {
	e.bundler.Flush()
}

// Teardown stops the window timer and flushes pending work.
func (e *Executor) Teardown() {
	e.windowRule.Stop()
	e.bundler.Flush()
}

// ResubmitPending feeds commands written by a dead process run back into the
// pipeline, flagged as retries and delayed per their own backoff. Commands
// with exhausted backoff are dropped and unregistered. Returns the number of
// commands scheduled.
func (e *Executor) ResubmitPending(ctx context.Context) int {
	cmds, err := e.repo.RetryableCommands(ctx)
	if err != nil {
		e.logger.Error("failed to load retryable commands", "error", err)
		return 0
	}

	scheduled := 0
	for _, c := range cmds {
		c.MarkRetry()

		delay := time.Duration(0)
		if c.Backoff != nil {
			d, err := c.Backoff.NextDelay()
			if errors.Is(err, retry.ErrRetryExhausted) {
				e.logger.Warn("dropping command with exhausted retries", "command_id", c.ID)
				if err := e.repo.Unregister(ctx, c.ID); err != nil {
					e.logger.Error("failed to unregister exhausted command", "error", err, "command_id", c.ID)
				}
				continue
			}
			delay = d
		}

		cmd := c
		e.clock.AfterFunc(delay, func() {
			e.AddCommand(ctx, cmd, nil)
		})
		scheduled++
		if e.metrics != nil {
			e.metrics.CommandsResurrected.Inc()
		}
	}

	if scheduled > 0 {
		e.logger.Info("resubmitting commands from previous run", "count", scheduled)
	}
	return scheduled
}

// BundleSealed implements bundler.Delegate: build the wire request and hand
// it to the delivery client. No-ops if the request cannot be built; fails
// fast without a send attempt while the circuit breaker is open.
func (e *Executor) BundleSealed(b *domain.Bundle) {
	if e.metrics != nil {
		e.metrics.BundlesSealed.Inc()
	}

	if e.config.AppKey == "" {
		e.logger.Warn("app metadata unavailable, dropping bundle", "size", b.Size())
		return
	}
	req := transport.NewRequest(b, e.config.AppKey, e.config.AppInfo)
	if req == nil {
		return
	}

	if e.breaker != nil && !e.breaker.CanRequest() {
		e.logger.Warn("circuit breaker open, not sending", "request_id", req.ID, "commands", b.Size())
		e.recordBreakerState(true)
		e.handleFailure(b)
		return
	}
	e.recordBreakerState(false)

	e.client.Enqueue(req, func(resp *transport.Response, err error) {
		if err != nil || resp == nil || !resp.Success {
			if e.breaker != nil {
				e.breaker.CountFailure()
			}
			if err != nil {
				e.logger.Warn("bundle delivery failed", "request_id", req.ID, "error", err)
			} else {
				e.logger.Warn("bundle delivery rejected", "request_id", req.ID, "server_error", respError(resp))
			}
			e.handleFailure(b)
			return
		}
		if e.breaker != nil {
			e.breaker.Reset()
		}
		e.handleSuccess(b, req, resp)
	})
}

func respError(resp *transport.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Error
}

// handleSuccess unregisters every command, resolves completions, dispatches
// the server's directives to consumers and fires the all-executed hook once.
func (e *Executor) handleSuccess(b *domain.Bundle, req *transport.Request, resp *transport.Response) {
	ctx := context.Background()
	for _, c := range b.Commands() {
		// Removing a missing row is not an error; unregister is idempotent.
		if err := e.repo.Unregister(ctx, c.ID); err != nil {
			e.logger.Error("failed to unregister command", "error", err, "command_id", c.ID)
		}
		e.resolve(c.ID, true)
		if e.metrics != nil {
			e.metrics.CommandsDelivered.Inc()
		}
	}

	if resp.Payload != nil {
		e.dispatchResponse(resp.Payload, req)
	}
	e.fireAllExecuted()
}

// handleFailure resolves completions as failed and keeps durable records in
// place for a later process run.
func (e *Executor) handleFailure(b *domain.Bundle) {
	for _, c := range b.Commands() {
		e.resolve(c.ID, false)
		if e.metrics != nil {
			e.metrics.CommandsFailed.Inc()
		}
	}
	e.fireAllExecuted()
}

func (e *Executor) resolve(id string, delivered bool) {
	e.mu.Lock()
	done, ok := e.completions[id]
	if ok {
		delete(e.completions, id)
	}
	e.mu.Unlock()
	if ok {
		done(delivered)
	}
}

func (e *Executor) dispatchResponse(payload map[string]any, req *transport.Request) {
	e.mu.Lock()
	consumers := make([]consumerReg, len(e.consumers))
	copy(consumers, e.consumers)
	e.mu.Unlock()

	for _, reg := range consumers {
		if reg.async {
			go reg.consumer.HandleResponse(payload, req)
		} else {
			reg.consumer.HandleResponse(payload, req)
		}
	}
}

func (e *Executor) fireAllExecuted() {
	e.mu.Lock()
	hooks := make([]func(), len(e.allExecuted))
	copy(hooks, e.allExecuted)
	e.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (e *Executor) recordBreakerState(open bool) {
	if e.metrics == nil {
		return
	}
	if open {
		e.metrics.CircuitBreakerOpen.Set(1)
	} else {
		e.metrics.CircuitBreakerOpen.Set(0)
	}
}
