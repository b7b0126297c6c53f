package bundler

import (
	"testing"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/domain"
)

type sealedCollector struct {
	bundles []*domain.Bundle
}

func (s *sealedCollector) BundleSealed(b *domain.Bundle) {
	s.bundles = append(s.bundles, b)
}

func newCommand(visitor, scene string, at time.Time) *domain.Command {
	return domain.NewCommand(
		domain.Event{Name: "view", Values: map[string]any{}},
		domain.Scene{SceneID: scene, PvID: "pv", OriginalPvID: "pv"},
		domain.Properties{Retryable: true},
		visitor,
		at,
	)
}

func TestBundler_VisitorSwitchStartsNewBundle(t *testing.T) {
	collector := &sealedCollector{}
	b := New(Config{Before: []BeforeRule{SameVisitorRule{}}}, collector, nil)

	now := time.Now()
	visitors := []string{"v1", "v1", "v2", "v2", "v1"}
	for i, v := range visitors {
		b.Add(newCommand(v, "s1", now.Add(time.Duration(i)*time.Millisecond)))
	}
	b.Flush()

	if len(collector.bundles) != 3 {
		t.Fatalf("sealed %d bundles, want 3", len(collector.bundles))
	}

	wantSizes := []int{2, 2, 1}
	for i, bundle := range collector.bundles {
		if bundle.Size() != wantSizes[i] {
			t.Errorf("bundle %d size = %d, want %d", i, bundle.Size(), wantSizes[i])
		}
		first := bundle.First()
		for _, c := range bundle.Commands() {
			if c.VisitorID != first.VisitorID {
				t.Errorf("bundle %d mixes visitors %s and %s", i, first.VisitorID, c.VisitorID)
			}
		}
		if !bundle.IsFrozen() {
			t.Errorf("bundle %d delivered unfrozen", i)
		}
	}
}

func TestBundler_SceneSwitchStartsNewBundle(t *testing.T) {
	collector := &sealedCollector{}
	b := New(Config{Before: []BeforeRule{SameVisitorRule{}, SameSceneRule{}}}, collector, nil)

	now := time.Now()
	b.Add(newCommand("v1", "home", now))
	b.Add(newCommand("v1", "home", now.Add(time.Millisecond)))
	b.Add(newCommand("v1", "detail", now.Add(2*time.Millisecond)))
	b.Flush()

	if len(collector.bundles) != 2 {
		t.Fatalf("sealed %d bundles, want 2", len(collector.bundles))
	}
	if collector.bundles[0].Size() != 2 || collector.bundles[1].Size() != 1 {
		t.Errorf("bundle sizes = %d, %d, want 2, 1",
			collector.bundles[0].Size(), collector.bundles[1].Size())
	}
}

func TestBundler_CountThresholdSealsExactly(t *testing.T) {
	const threshold = 3
	collector := &sealedCollector{}
	b := New(Config{After: []AfterRule{CountRule{Max: threshold}}}, collector, nil)

	now := time.Now()
	for i := 0; i < threshold+1; i++ {
		b.Add(newCommand("v1", "s1", now.Add(time.Duration(i)*time.Millisecond)))
	}

	if len(collector.bundles) != 1 {
		t.Fatalf("sealed %d bundles after %d commands, want 1", len(collector.bundles), threshold+1)
	}
	if collector.bundles[0].Size() != threshold {
		t.Errorf("sealed bundle size = %d, want %d", collector.bundles[0].Size(), threshold)
	}

	// The (N+1)th command started a fresh bundle.
	b.Flush()
	if len(collector.bundles) != 2 || collector.bundles[1].Size() != 1 {
		t.Errorf("remaining bundle not flushed as size 1")
	}
}

func TestBundler_TimeWindowDebounce(t *testing.T) {
	mc := &clock.MockClock{NowTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	collector := &sealedCollector{}
	rule := NewTimeWindowRule(100*time.Millisecond, mc)
	b := New(Config{Async: []AsyncRule{rule}}, collector, nil)

	// Commands arriving faster than the window never seal via the timer.
	for i := 0; i < 5; i++ {
		b.Add(newCommand("v1", "s1", mc.Now()))
		mc.Advance(50 * time.Millisecond)
		if len(collector.bundles) != 0 {
			t.Fatalf("sealed after %d adds within the window", i+1)
		}
	}

	// Going quiet for the full window seals exactly once.
	mc.Advance(100 * time.Millisecond)
	if len(collector.bundles) != 1 {
		t.Fatalf("sealed %d bundles after quiet window, want 1", len(collector.bundles))
	}
	if collector.bundles[0].Size() != 5 {
		t.Errorf("sealed bundle size = %d, want 5", collector.bundles[0].Size())
	}

	// No residual timer fires.
	mc.Advance(time.Second)
	if len(collector.bundles) != 1 {
		t.Errorf("timer fired again after sealing: %d bundles", len(collector.bundles))
	}
}

func TestBundler_BoundaryCommandEntersNewBundle(t *testing.T) {
	collector := &sealedCollector{}
	b := New(Config{Before: []BeforeRule{SameVisitorRule{}}}, collector, nil)

	now := time.Now()
	b.Add(newCommand("v1", "s1", now))
	trigger := newCommand("v2", "s1", now.Add(time.Millisecond))
	b.Add(trigger)

	if len(collector.bundles) != 1 {
		t.Fatalf("sealed %d bundles, want 1", len(collector.bundles))
	}
	// The triggering command must not be in the sealed bundle.
	for _, c := range collector.bundles[0].Commands() {
		if c.ID == trigger.ID {
			t.Error("triggering command sealed into the old bundle")
		}
	}

	b.Flush()
	if len(collector.bundles) != 2 {
		t.Fatalf("sealed %d bundles after flush, want 2", len(collector.bundles))
	}
	if got := collector.bundles[1].First(); got == nil || got.ID != trigger.ID {
		t.Error("triggering command did not enter the new bundle")
	}
}

func TestBundler_FlushEmptyIsNoop(t *testing.T) {
	collector := &sealedCollector{}
	b := New(Config{}, collector, nil)
	b.Flush()
	if len(collector.bundles) != 0 {
		t.Errorf("flushing an empty bundler sealed %d bundles", len(collector.bundles))
	}
}

func TestBundler_SealedBundleSortedByCreation(t *testing.T) {
	collector := &sealedCollector{}
	b := New(Config{}, collector, nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Insertion order deliberately out of timestamp order.
	b.Add(newCommand("v1", "s1", base.Add(2*time.Second)))
	b.Add(newCommand("v1", "s1", base))
	b.Add(newCommand("v1", "s1", base.Add(time.Second)))
	b.Flush()

	cmds := collector.bundles[0].Commands()
	for i := 1; i < len(cmds); i++ {
		if cmds[i].CreatedAt.Before(cmds[i-1].CreatedAt) {
			t.Errorf("sealed bundle not sorted by creation time at index %d", i)
		}
	}
}
