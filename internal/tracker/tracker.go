// Package tracker is the public facade of the pipeline: it assembles the
// durable store, bundlers, executors, delivery client and reachability
// monitor, and exposes the single submit entry point used by every feature
// layer (deeplinks, push, visual tracking, variables, messaging).
package tracker

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/domain"
	"github.com/felipemaragno/beacon/internal/executor"
	"github.com/felipemaragno/beacon/internal/observability"
	"github.com/felipemaragno/beacon/internal/repository"
	"github.com/felipemaragno/beacon/internal/repository/sqlite"
	"github.com/felipemaragno/beacon/internal/resilience"
	"github.com/felipemaragno/beacon/internal/store"
	"github.com/felipemaragno/beacon/internal/transport"
)

// Submission is one tracking call. Library names the originating feature
// module and is matched by filter rules; it never reaches the wire.
type Submission struct {
	Library    string
	Event      string
	Values     map[string]any
	Scene      domain.Scene
	VisitorID  string
	Properties domain.Properties
}

type options struct {
	transport transport.Transport
	reach     transport.Reachability
	clk       clock.Clock
	metrics   *observability.Metrics
}

// Option overrides a collaborator, mainly for tests.
type Option func(*options)

func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.transport = tr }
}

func WithReachability(r transport.Reachability) Option {
	return func(o *options) { o.reach = r }
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Tracker wires the whole pipeline together. Create with New, call Start
// once, submit through Track, and Teardown on shutdown.
type Tracker struct {
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clk     clock.Clock

	store    *store.Store
	repo     repository.CommandRepository
	reach    transport.Reachability
	client   *transport.Client
	breaker  *resilience.CircuitBreaker
	live     *executor.Executor
	retry    *executor.Executor
	filters  *executor.FilterChain
	appState *AppStateSource
}

func New(config Config, logger *slog.Logger, opts ...Option) (*Tracker, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clk == nil {
		o.clk = clock.RealClock{}
	}

	st, err := store.Open(config.DatabasePath)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		config:   config,
		logger:   logger,
		metrics:  o.metrics,
		clk:      o.clk,
		store:    st,
		filters:  executor.NewFilterChain(),
		appState: NewAppStateSource(),
	}
	t.repo = sqlite.NewCommandRepository(st, uuid.NewString(), o.clk, logger)

	tr := o.transport
	if tr == nil {
		tr = transport.NewHTTPTransport(config.Endpoint, &http.Client{Timeout: config.RequestTimeout}, logger)
	}

	reach := o.reach
	if reach == nil {
		polling, err := transport.NewPollingReachability(config.Endpoint, config.ProbeInterval, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		reach = polling
	}
	t.reach = reach

	t.client = transport.NewClient(tr, reach, logger).
		WithMetrics(o.metrics).
		WithTimeout(config.RequestTimeout)

	t.breaker = resilience.DefaultCircuitBreaker(o.clk)

	liveCfg := executor.LiveConfig(config.AppKey, config.AppInfo)
	liveCfg.Window = config.LiveWindow
	liveCfg.BundleMax = config.BundleMax
	t.live = executor.New(liveCfg, t.repo, t.client, t.breaker, o.clk, logger).WithMetrics(o.metrics)

	retryCfg := executor.RetryConfig(config.AppKey, config.AppInfo)
	retryCfg.Window = config.RetryWindow
	retryCfg.BundleMax = config.BundleMax
	t.retry = executor.New(retryCfg, t.repo, t.client, t.breaker, o.clk, logger).WithMetrics(o.metrics)

	// An idle, reachable client is the cue to push out whatever the
	// bundlers still hold.
	t.client.Observe(func(state transport.State) {
		if state == transport.StateWaiting {
			t.live.Flush()
			t.retry.Flush()
		}
	})

	t.appState.OnChange(func(state AppState) {
		gate := t.live.Gate()
		if gate == nil {
			return
		}
		switch state {
		case StateBackground:
			gate.EnterBackground()
			t.live.Flush()
		case StateForeground:
			gate.EnterForeground()
		}
	})

	return t, nil
}

// Start begins reachability observation and resurrects commands left behind
// by a previous process run.
func (t *Tracker) Start(ctx context.Context) {
	t.client.Start()
	resurrected := t.retry.ResubmitPending(ctx)
	t.logger.Info("tracker started",
		"endpoint", t.config.Endpoint,
		"resurrected", resurrected,
	)
}

// Track submits one event. The returned handle resolves exactly once:
// rejected submissions resolve immediately as failed and never enter the
// pipeline.
func (t *Tracker) Track(ctx context.Context, sub Submission) *Handle {
	h := newHandle()

	event := domain.Event{Name: sub.Event, Values: sub.Values}
	if t.filters.Rejects(sub.Library, event) {
		t.logger.Debug("submission rejected by filter",
			"library", sub.Library,
			"event", sub.Event,
		)
		if t.metrics != nil {
			t.metrics.CommandsRejected.Inc()
		}
		h.resolve(false)
		return h
	}

	cmd := domain.NewCommand(event, sub.Scene, sub.Properties, sub.VisitorID, t.clk.Now())
	t.live.AddCommand(ctx, cmd, h.resolve)
	return h
}

// RegisterConsumer attaches a response consumer to both pipeline variants.
func (t *Tracker) RegisterConsumer(c executor.ResponseConsumer, opts ...executor.ConsumerOption) {
	t.live.RegisterConsumer(c, opts...)
	t.retry.RegisterConsumer(c, opts...)
}

// AddFilter appends a rejection rule evaluated before admission.
func (t *Tracker) AddFilter(rule executor.FilterRule) {
	t.filters.Add(rule)
}

// AppState returns the source the embedding layer feeds lifecycle
// transitions into.
func (t *Tracker) AppState() *AppStateSource {
	return t.appState
}

// OptOut removes every durable record. In-memory work already in flight is
// not recalled.
func (t *Tracker) OptOut(ctx context.Context) error {
	if err := t.repo.UnregisterAll(ctx); err != nil {
		return err
	}
	t.logger.Info("opted out, durable records cleared")
	return nil
}

// Teardown flushes pending work, stops timers and closes the store.
func (t *Tracker) Teardown() {
	t.live.Teardown()
	t.retry.Teardown()
	t.client.Stop()
	if err := t.store.Close(); err != nil {
		t.logger.Error("failed to close store", "error", err)
	}
}
