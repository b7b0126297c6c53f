package tracker

import "sync"

// Handle is the caller's view of one submission. Done yields exactly one
// outcome: true for delivered, false for rejected or failed. The host
// application never observes a partial state.
type Handle struct {
	once sync.Once
	ch   chan bool
}

func newHandle() *Handle {
	return &Handle{ch: make(chan bool, 1)}
}

// Done returns the single-fire outcome channel.
func (h *Handle) Done() <-chan bool {
	return h.ch
}

// resolve delivers the outcome. Later calls are ignored.
func (h *Handle) resolve(delivered bool) {
	h.once.Do(func() {
		h.ch <- delivered
	})
}
