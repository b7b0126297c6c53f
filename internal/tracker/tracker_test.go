package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/felipemaragno/beacon/internal/domain"
	"github.com/felipemaragno/beacon/internal/executor"
	"github.com/felipemaragno/beacon/internal/transport"
)

type stubTransport struct {
	mu       sync.Mutex
	resp     *transport.Response
	err      error
	requests []*transport.Request
}

func (s *stubTransport) Send(_ context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

func (s *stubTransport) sent() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

type stubReach struct{}

func (stubReach) WhenReachable(func())   {}
func (stubReach) WhenUnreachable(func()) {}
func (stubReach) StartNotifier()         {}
func (stubReach) StopNotifier()          {}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AppKey = "test-app-key"
	cfg.AppInfo = transport.AppInfo{Version: "1.0.0", OS: "test", SDKVersion: "0.1.0"}
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tracker.db")
	cfg.LiveWindow = 10 * time.Millisecond
	cfg.RetryWindow = 10 * time.Millisecond
	return cfg
}

func newTracker(t *testing.T, cfg Config, st *stubTransport) *Tracker {
	t.Helper()
	tr, err := New(cfg, nil, WithTransport(st), WithReachability(stubReach{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func submission(event string) Submission {
	return Submission{
		Library:   "core",
		Event:     event,
		Values:    map[string]any{"screen": "home"},
		Scene:     domain.Scene{SceneID: "scene-1", PvID: "pv-1", OriginalPvID: "pv-1"},
		VisitorID: "visitor-1",
		Properties: domain.Properties{
			Retryable:         true,
			ReadyOnBackground: true,
		},
	}
}

func awaitOutcome(t *testing.T, h *Handle) bool {
	t.Helper()
	select {
	case d := <-h.Done():
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("handle never resolved")
		return false
	}
}

func TestTracker_TrackDeliversAndResolvesHandle(t *testing.T) {
	st := &stubTransport{resp: &transport.Response{Success: true, Status: 200}}
	tr := newTracker(t, testConfig(t), st)
	defer tr.Teardown()
	tr.Start(context.Background())

	h := tr.Track(context.Background(), submission("view"))
	if !awaitOutcome(t, h) {
		t.Fatal("submission resolved as failed, want delivered")
	}

	sent := st.sent()
	if len(sent) != 1 {
		t.Fatalf("requests = %d, want 1", len(sent))
	}
	if sent[0].VisitorID != "visitor-1" {
		t.Fatalf("visitor = %s", sent[0].VisitorID)
	}
}

func TestTracker_FailureResolvesHandleAsFailed(t *testing.T) {
	st := &stubTransport{err: errors.New("network down")}
	tr := newTracker(t, testConfig(t), st)
	defer tr.Teardown()
	tr.Start(context.Background())

	h := tr.Track(context.Background(), submission("view"))
	if awaitOutcome(t, h) {
		t.Fatal("submission resolved as delivered, want failed")
	}
}

func TestTracker_FilterRejectsBeforeAdmission(t *testing.T) {
	st := &stubTransport{resp: &transport.Response{Success: true, Status: 200}}
	tr := newTracker(t, testConfig(t), st)
	defer tr.Teardown()
	tr.Start(context.Background())

	tr.AddFilter(executor.FilterRule{Library: "core", Event: "blocked"})

	h := tr.Track(context.Background(), submission("blocked"))
	if awaitOutcome(t, h) {
		t.Fatal("rejected submission resolved as delivered")
	}

	// A rejected submission never produces network traffic.
	time.Sleep(50 * time.Millisecond)
	if len(st.sent()) != 0 {
		t.Fatalf("requests = %d, want 0", len(st.sent()))
	}
}

func TestTracker_ResurrectionAcrossProcessRuns(t *testing.T) {
	cfg := testConfig(t)

	// First run: delivery fails, the durable record stays behind.
	down := &stubTransport{err: errors.New("network down")}
	first := newTracker(t, cfg, down)
	first.Start(context.Background())

	h := first.Track(context.Background(), submission("purchase"))
	if awaitOutcome(t, h) {
		t.Fatal("delivery succeeded against a down transport")
	}
	first.Teardown()

	// Second run on the same database: startup feeds the leftover command
	// through the retry pipeline.
	up := &stubTransport{resp: &transport.Response{Success: true, Status: 200}}
	second := newTracker(t, cfg, up)
	defer second.Teardown()
	second.Start(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		sent := up.sent()
		if len(sent) > 0 {
			values, ok := sent[0].Events[0]["values"].(map[string]any)
			if !ok {
				t.Fatal("event values missing")
			}
			if values["_retry"] != true {
				t.Fatal("resurrected event not flagged as retry")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("resurrected command never sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTracker_OptOutClearsDurableRecords(t *testing.T) {
	cfg := testConfig(t)

	down := &stubTransport{err: errors.New("network down")}
	first := newTracker(t, cfg, down)
	first.Start(context.Background())

	h := first.Track(context.Background(), submission("view"))
	awaitOutcome(t, h)

	if err := first.OptOut(context.Background()); err != nil {
		t.Fatalf("OptOut: %v", err)
	}
	first.Teardown()

	// A fresh run finds nothing to resurrect.
	up := &stubTransport{resp: &transport.Response{Success: true, Status: 200}}
	second := newTracker(t, cfg, up)
	defer second.Teardown()
	second.Start(context.Background())

	time.Sleep(200 * time.Millisecond)
	if len(up.sent()) != 0 {
		t.Fatalf("requests after opt-out = %d, want 0", len(up.sent()))
	}
}

func TestTracker_BackgroundHoldsUntilForeground(t *testing.T) {
	st := &stubTransport{resp: &transport.Response{Success: true, Status: 200}}
	tr := newTracker(t, testConfig(t), st)
	defer tr.Teardown()
	tr.Start(context.Background())

	tr.AppState().SetBackground()

	sub := submission("view")
	sub.Properties.ReadyOnBackground = false
	h := tr.Track(context.Background(), sub)

	time.Sleep(100 * time.Millisecond)
	if len(st.sent()) != 0 {
		t.Fatal("background-held command was sent")
	}

	tr.AppState().SetForeground()
	if !awaitOutcome(t, h) {
		t.Fatal("held command not delivered after foreground")
	}
}
