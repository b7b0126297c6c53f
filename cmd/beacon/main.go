// Load generator driving the full client pipeline against a collector.
// Submits synthetic events through the tracker, waits on each handle, and
// reports delivery rates on shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/felipemaragno/beacon/internal/domain"
	"github.com/felipemaragno/beacon/internal/tracker"
	"github.com/felipemaragno/beacon/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	count := flag.Int("count", 1000, "Number of events to submit")
	visitors := flag.Int("visitors", 10, "Number of distinct visitors to rotate through")
	interval := flag.Duration("interval", 10*time.Millisecond, "Delay between submissions")
	eventName := flag.String("event", "loadtest", "Event name to submit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := tracker.ConfigFromEnv()
	if cfg.AppKey == "" {
		cfg.AppKey = "loadtest-app-key"
	}
	cfg.AppInfo = transport.AppInfo{Version: "dev", OS: "linux", SDKVersion: "0.1.0"}

	t, err := tracker.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build tracker", "error", err)
		os.Exit(1)
	}
	defer t.Teardown()
	t.Start(ctx)

	logger.Info("starting load run",
		"endpoint", cfg.Endpoint,
		"count", *count,
		"visitors", *visitors,
		"interval", *interval,
	)

	var delivered, failed atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	submitted := 0

loop:
	for i := 0; i < *count; i++ {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		visitor := fmt.Sprintf("visitor-%d", i%*visitors)
		h := t.Track(ctx, tracker.Submission{
			Library:   "loadtest",
			Event:     *eventName,
			Values:    map[string]any{"sequence": i},
			Scene:     domain.Scene{SceneID: "load", PvID: visitor, OriginalPvID: visitor},
			VisitorID: visitor,
			Properties: domain.Properties{
				Retryable:         true,
				ReadyOnBackground: true,
			},
		})
		submitted++

		wg.Add(1)
		go func() {
			defer wg.Done()
			if <-h.Done() {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
		}()

		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	// Give outstanding handles a bounded window to resolve.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for outstanding submissions")
	}

	elapsed := time.Since(start)
	logger.Info("load run complete",
		"submitted", submitted,
		"delivered", delivered.Load(),
		"failed", failed.Load(),
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"rate_per_sec", fmt.Sprintf("%.1f", float64(submitted)/elapsed.Seconds()),
	)
}
