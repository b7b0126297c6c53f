package transport

import (
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Reachability observes host connectivity. Callbacks are edge-triggered:
// WhenReachable fires once per offline-to-online transition and vice versa.
type Reachability interface {
	WhenReachable(fn func())
	WhenUnreachable(fn func())
	StartNotifier()
	StopNotifier()
}

// PollingReachability probes the collector host on an interval and reports
// transitions. It starts optimistic (reachable) so enqueued work is not
// delayed by the first probe.
type PollingReachability struct {
	host     string
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	reachable   bool
	onReachable []func()
	onLost      []func()
	stopCh      chan struct{}
}

// NewPollingReachability builds a monitor probing the endpoint's host:port.
func NewPollingReachability(endpoint string, interval time.Duration, logger *slog.Logger) (*PollingReachability, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PollingReachability{
		host:      host,
		interval:  interval,
		logger:    logger,
		reachable: true,
	}, nil
}

func (p *PollingReachability) WhenReachable(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReachable = append(p.onReachable, fn)
}

func (p *PollingReachability) WhenUnreachable(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLost = append(p.onLost, fn)
}

func (p *PollingReachability) StartNotifier() {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.mu.Unlock()

	go p.run(stopCh)
}

func (p *PollingReachability) StopNotifier() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

func (p *PollingReachability) run(stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *PollingReachability) probe() {
	conn, err := net.DialTimeout("tcp", p.host, 3*time.Second)
	if conn != nil {
		conn.Close()
	}
	now := err == nil

	p.mu.Lock()
	was := p.reachable
	p.reachable = now
	var fire []func()
	if now && !was {
		fire = append(fire, p.onReachable...)
	} else if !now && was {
		fire = append(fire, p.onLost...)
	}
	p.mu.Unlock()

	if now != was {
		p.logger.Info("reachability changed", "reachable", now, "host", p.host)
	}
	for _, fn := range fire {
		fn()
	}
}
