package executor

import (
	"testing"

	"github.com/felipemaragno/beacon/internal/domain"
)

func TestFilterChain_FirstMatchWins(t *testing.T) {
	chain := NewFilterChain()
	second := false
	chain.Add(FilterRule{Event: "view", Reject: func(domain.Event) bool { return true }})
	chain.Add(FilterRule{Event: "view", Reject: func(domain.Event) bool {
		second = true
		return false
	}})

	if !chain.Rejects("core", domain.Event{Name: "view"}) {
		t.Fatal("first matching rule rejected, chain did not")
	}
	if second {
		t.Fatal("later rule consulted after a rejection")
	}
}

func TestFilterChain_Scoping(t *testing.T) {
	chain := NewFilterChain()
	chain.Add(FilterRule{Library: "in_app", Event: "message_open"})

	tests := []struct {
		name    string
		library string
		event   string
		want    bool
	}{
		{"matching library and event", "in_app", "message_open", true},
		{"wrong library", "core", "message_open", false},
		{"wrong event", "in_app", "view", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chain.Rejects(tt.library, domain.Event{Name: tt.event})
			if got != tt.want {
				t.Fatalf("Rejects(%q, %q) = %v, want %v", tt.library, tt.event, got, tt.want)
			}
		})
	}
}

func TestFilterChain_NilRejectIsUnconditional(t *testing.T) {
	chain := NewFilterChain()
	chain.Add(FilterRule{Event: "debug"})

	if !chain.Rejects("core", domain.Event{Name: "debug"}) {
		t.Fatal("nil predicate should reject unconditionally")
	}
	if chain.Rejects("core", domain.Event{Name: "view"}) {
		t.Fatal("unrelated event rejected")
	}
}

func TestFilterChain_PredicateInspectsValues(t *testing.T) {
	chain := NewFilterChain()
	chain.Add(FilterRule{Event: "purchase", Reject: func(e domain.Event) bool {
		v, _ := e.Values["amount"].(float64)
		return v <= 0
	}})

	if !chain.Rejects("core", domain.Event{Name: "purchase", Values: map[string]any{"amount": float64(0)}}) {
		t.Fatal("zero-amount purchase not rejected")
	}
	if chain.Rejects("core", domain.Event{Name: "purchase", Values: map[string]any{"amount": float64(9.99)}}) {
		t.Fatal("valid purchase rejected")
	}
}

func TestFilterChain_EmptyChainAdmitsEverything(t *testing.T) {
	chain := NewFilterChain()
	if chain.Rejects("core", domain.Event{Name: "view"}) {
		t.Fatal("empty chain rejected an event")
	}
}
