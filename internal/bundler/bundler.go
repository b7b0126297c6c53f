// Package bundler groups commands into network-efficient bundles using
// ordered boundary rules.
//
// Three rule classes decide bundle boundaries:
//
//   - before-rules: evaluated against (current bundle, incoming command)
//     before the command is added; the first match seals the current bundle
//     and the command re-enters a fresh one.
//   - after-rules: evaluated against the bundle including the new command;
//     the first match seals immediately.
//   - async-rules: given the command and a fire callback; a true fire seals
//     whatever the current bundle is at that moment (timer/debounce path).
//
// Rule evaluation is strictly ordered with first-true-wins short circuit.
// Rules must be pure functions of (bundle, command); a before-rule must never
// match against an empty bundle, which bounds the re-entrant add at depth one.
package bundler

import (
	"io"
	"log/slog"
	"sync"

	"github.com/felipemaragno/beacon/internal/domain"
)

// Delegate receives sealed bundles. Each sealed bundle is delivered exactly
// once, synchronously from the sealing call site; the delegate is responsible
// for any async dispatch and must not call back into the bundler.
type Delegate interface {
	BundleSealed(b *domain.Bundle)
}

// BeforeRule decides whether the current bundle must be sealed before the
// incoming command is admitted.
type BeforeRule interface {
	Name() string
	ShouldStartNewBundle(b *domain.Bundle, c *domain.Command) bool
}

// AfterRule decides whether the bundle should seal now that it includes the
// newest command.
type AfterRule interface {
	Name() string
	ShouldSeal(b *domain.Bundle) bool
}

// AsyncRule schedules a deferred sealing decision. The rule calls fire(true)
// when the current bundle should seal; fire(false) is a no-op.
type AsyncRule interface {
	Name() string
	Schedule(b *domain.Bundle, c *domain.Command, fire func(seal bool))
}

// Config carries the ordered rule sets for a bundler.
type Config struct {
	Before []BeforeRule
	After  []AfterRule
	Async  []AsyncRule
}

// Bundler accumulates commands into the current bundle and seals it when a
// rule fires. All mutation happens under one mutex; async rule callbacks
// re-enter through the same lock, so commands are processed in call order
// and each sealed bundle reaches the delegate exactly once.
type Bundler struct {
	mu       sync.Mutex
	current  *domain.Bundle
	config   Config
	delegate Delegate
	logger   *slog.Logger
}

func New(config Config, delegate Delegate, logger *slog.Logger) *Bundler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bundler{
		current:  domain.NewBundle(),
		config:   config,
		delegate: delegate,
		logger:   logger,
	}
}

// Add runs the incoming command through the rule pipeline.
func (b *Bundler) Add(c *domain.Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(c)
}

// Flush seals the current bundle regardless of rules. Used to drain backlog
// when the delivery client leaves the running state or on teardown.
func (b *Bundler) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealLocked()
}

func (b *Bundler) addLocked(c *domain.Command) {
	for _, r := range b.config.Before {
		if r.ShouldStartNewBundle(b.current, c) {
			b.logger.Debug("bundle boundary before add",
				"rule", r.Name(),
				"command_id", c.ID,
			)
			b.sealLocked()
			b.addLocked(c)
			return
		}
	}

	if err := b.current.Append(c); err != nil {
		// Unreachable: the current bundle is never frozen.
		b.logger.Error("failed to append command", "error", err, "command_id", c.ID)
		return
	}

	for _, r := range b.config.After {
		if r.ShouldSeal(b.current) {
			b.logger.Debug("bundle boundary after add",
				"rule", r.Name(),
				"command_id", c.ID,
			)
			b.sealLocked()
			break
		}
	}

	for _, r := range b.config.Async {
		r.Schedule(b.current, c, b.asyncFire)
	}
}

func (b *Bundler) asyncFire(seal bool) {
	if !seal {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealLocked()
}

// sealLocked freezes the current bundle, hands it to the delegate and starts
// a fresh one. Sealing an empty bundle is a no-op. Must hold mu.
func (b *Bundler) sealLocked() {
	if b.current.Size() == 0 {
		return
	}
	sealed := b.current
	b.current = domain.NewBundle()
	sealed.Freeze()

	b.logger.Debug("bundle sealed", "size", sealed.Size())
	b.delegate.BundleSealed(sealed)
}
