package bundler

import (
	"testing"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
)

func TestDebouncer_OnlyLastScheduleFires(t *testing.T) {
	mc := &clock.MockClock{NowTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	d := NewDebouncer(mc)

	fired := 0
	for i := 0; i < 3; i++ {
		d.Trigger(100*time.Millisecond, func() { fired++ })
		mc.Advance(50 * time.Millisecond)
	}

	if fired != 0 {
		t.Fatalf("debounce fired %d times before going quiet", fired)
	}

	mc.Advance(100 * time.Millisecond)
	if fired != 1 {
		t.Errorf("debounce fired %d times, want exactly 1", fired)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	mc := &clock.MockClock{NowTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	d := NewDebouncer(mc)

	fired := false
	d.Trigger(100*time.Millisecond, func() { fired = true })
	d.Stop()
	mc.Advance(time.Second)

	if fired {
		t.Error("stopped debounce still fired")
	}
}
