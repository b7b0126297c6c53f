package pubsub

import "sync"

// Registrar holds the durable pending count. Every accepted message is
// resolved exactly once, as Reached or NotReached; when the count drops to
// zero the queue-empty hooks fire. Other subsystems use that signal to know
// all pending delivery work has drained.
type Registrar interface {
	Accept(msg *Message) error
	Reached(msg *Message)
	NotReached(msg *Message)
	Pending() int
	OnQueueEmpty(fn func())
}

// InMemoryRegistrar tracks pending messages in a map. Suitable for a single
// process; the interface leaves room for a durable implementation.
type InMemoryRegistrar struct {
	mu      sync.Mutex
	pending map[string]*Message
	hooks   []func()
}

func NewInMemoryRegistrar() *InMemoryRegistrar {
	return &InMemoryRegistrar{pending: make(map[string]*Message)}
}

func (r *InMemoryRegistrar) Accept(msg *Message) error {
	r.mu.Lock()
	r.pending[msg.ID] = msg
	r.mu.Unlock()
	return nil
}

func (r *InMemoryRegistrar) Reached(msg *Message) {
	r.resolve(msg)
}

func (r *InMemoryRegistrar) NotReached(msg *Message) {
	r.resolve(msg)
}

func (r *InMemoryRegistrar) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *InMemoryRegistrar) OnQueueEmpty(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (r *InMemoryRegistrar) resolve(msg *Message) {
	r.mu.Lock()
	delete(r.pending, msg.ID)
	var hooks []func()
	if len(r.pending) == 0 {
		hooks = make([]func(), len(r.hooks))
		copy(hooks, r.hooks)
	}
	r.mu.Unlock()

	// Fire outside the lock; hooks may publish again.
	for _, fn := range hooks {
		fn()
	}
}
