package bundler

import (
	"sync"

	"github.com/felipemaragno/beacon/internal/domain"
)

// Proxy gates command admission into a bundler. The bundler's own rules
// decide boundaries; the proxy only decides *when* commands reach it.
type Proxy interface {
	Add(c *domain.Command)
}

// Passthrough forwards every command immediately. Used by the retry
// pipeline, which runs regardless of application state.
type Passthrough struct {
	bundler *Bundler
}

func NewPassthrough(b *Bundler) *Passthrough {
	return &Passthrough{bundler: b}
}

func (p *Passthrough) Add(c *domain.Command) {
	p.bundler.Add(c)
}

// StateGated holds commands that arrive while the host application is
// backgrounded, unless the command is marked ready-on-background. Held
// commands flush to the bundler in original order on the next foreground
// transition.
type StateGated struct {
	mu         sync.Mutex
	bundler    *Bundler
	background bool
	held       []*domain.Command
}

func NewStateGated(b *Bundler) *StateGated {
	return &StateGated{bundler: b}
}

func (g *StateGated) Add(c *domain.Command) {
	g.mu.Lock()
	if g.background && !c.Properties.ReadyOnBackground {
		g.held = append(g.held, c)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.bundler.Add(c)
}

// EnterBackground closes the gate for background-ineligible commands.
func (g *StateGated) EnterBackground() {
	g.mu.Lock()
	g.background = true
	g.mu.Unlock()
}

// EnterForeground opens the gate and flushes held commands in order.
func (g *StateGated) EnterForeground() {
	g.mu.Lock()
	g.background = false
	held := g.held
	g.held = nil
	g.mu.Unlock()

	for _, c := range held {
		g.bundler.Add(c)
	}
}
