package bundler

import (
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/domain"
)

// SameVisitorRule is a before-rule: a visitor switch forces a new bundle so
// every bundle's commands share one visitor id.
type SameVisitorRule struct{}

func (SameVisitorRule) Name() string { return "same_visitor" }

func (SameVisitorRule) ShouldStartNewBundle(b *domain.Bundle, c *domain.Command) bool {
	first := b.First()
	if first == nil {
		return false
	}
	return first.VisitorID != c.VisitorID
}

// SameSceneRule is a before-rule: a scene switch forces a new bundle.
type SameSceneRule struct{}

func (SameSceneRule) Name() string { return "same_scene" }

func (SameSceneRule) ShouldStartNewBundle(b *domain.Bundle, c *domain.Command) bool {
	first := b.First()
	if first == nil {
		return false
	}
	return first.Scene.SceneID != c.Scene.SceneID
}

// CountRule is an after-rule capping bundle size to keep request payloads
// bounded.
type CountRule struct {
	Max int
}

func (CountRule) Name() string { return "count_threshold" }

func (r CountRule) ShouldSeal(b *domain.Bundle) bool {
	return b.Size() >= r.Max
}

// TimeWindowRule is an async-rule implementing debounce sealing: every added
// command reschedules a single-shot timer; when the window elapses with no
// newer command, the current bundle seals. Live tracking uses a 100ms window,
// retry flows 1s.
type TimeWindowRule struct {
	window   time.Duration
	debounce *Debouncer
}

func NewTimeWindowRule(window time.Duration, clk clock.Clock) *TimeWindowRule {
	return &TimeWindowRule{
		window:   window,
		debounce: NewDebouncer(clk),
	}
}

func (*TimeWindowRule) Name() string { return "time_window" }

func (r *TimeWindowRule) Schedule(b *domain.Bundle, c *domain.Command, fire func(seal bool)) {
	r.debounce.Trigger(r.window, func() {
		fire(true)
	})
}

// Stop cancels any pending window. Called on teardown.
func (r *TimeWindowRule) Stop() {
	r.debounce.Stop()
}
