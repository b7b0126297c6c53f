package bundler

import (
	"sync"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
)

// Debouncer is a cancel-and-reschedule single-shot timer. Each Trigger
// replaces the pending callback; only the last-scheduled one fires, and only
// if no newer Trigger reset it within the delay.
type Debouncer struct {
	mu    sync.Mutex
	clk   clock.Clock
	timer clock.Timer
}

func NewDebouncer(clk clock.Clock) *Debouncer {
	return &Debouncer{clk: clk}
}

// Trigger schedules fn to run after delay, cancelling any pending schedule.
func (d *Debouncer) Trigger(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(delay, fn)
}

// Stop cancels any pending schedule.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
