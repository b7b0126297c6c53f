package tracker

import (
	"os"
	"time"

	"github.com/felipemaragno/beacon/internal/transport"
)

// Config holds everything needed to assemble a Tracker.
type Config struct {
	Endpoint     string
	AppKey       string
	AppInfo      transport.AppInfo
	DatabasePath string

	RequestTimeout time.Duration
	LiveWindow     time.Duration
	RetryWindow    time.Duration
	BundleMax      int

	ProbeInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Endpoint:       "http://localhost:8080/track",
		DatabasePath:   "beacon.db",
		RequestTimeout: 10 * time.Second,
		LiveWindow:     100 * time.Millisecond,
		RetryWindow:    time.Second,
		BundleMax:      50,
		ProbeInterval:  5 * time.Second,
	}
}

// ConfigFromEnv reads overrides from the environment, falling back to
// defaults for anything unset or unparseable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("BEACON_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BEACON_APP_KEY"); v != "" {
		cfg.AppKey = v
	}
	if v := os.Getenv("BEACON_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("BEACON_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("BEACON_LIVE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LiveWindow = d
		}
	}
	if v := os.Getenv("BEACON_RETRY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryWindow = d
		}
	}
	if v := os.Getenv("BEACON_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbeInterval = d
		}
	}
	return cfg
}
