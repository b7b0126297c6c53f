package executor

import (
	"sync"

	"github.com/felipemaragno/beacon/internal/domain"
)

// FilterRule rejects events before they enter the pipeline. Library and
// Event narrow which events the rule applies to; an empty string matches
// everything. Reject decides; a nil Reject rejects unconditionally.
type FilterRule struct {
	Library string
	Event   string
	Reject  func(e domain.Event) bool
}

func (r FilterRule) applies(library string, e domain.Event) bool {
	if r.Library != "" && r.Library != library {
		return false
	}
	if r.Event != "" && r.Event != e.Name {
		return false
	}
	return true
}

// FilterChain evaluates rules in registration order; the first applicable
// rule that rejects wins and later rules are not consulted.
type FilterChain struct {
	mu    sync.RWMutex
	rules []FilterRule
}

func NewFilterChain() *FilterChain {
	return &FilterChain{}
}

func (f *FilterChain) Add(rule FilterRule) {
	f.mu.Lock()
	f.rules = append(f.rules, rule)
	f.mu.Unlock()
}

// Rejects reports whether the event should be dropped before admission.
func (f *FilterChain) Rejects(library string, e domain.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.rules {
		if !r.applies(library, e) {
			continue
		}
		if r.Reject == nil || r.Reject(e) {
			return true
		}
	}
	return false
}
