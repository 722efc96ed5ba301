// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry that maps strategy names to constructors.
package strategy

import (
	"sort"
	"sync"

	"backtester/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// OnData is called once per backtest step with the bars visible so far
	// (oldest first, never including future bars) and a snapshot of the
	// portfolio. It returns the order to submit, or nil when no action is
	// warranted. Implementations must not modify window.
	OnData(window []domain.Bar, inst domain.Instrument, pf domain.Snapshot) *domain.Order
}

// Constructor builds a Strategy from the lookback window length and the
// quantities to trade when going long and short.
type Constructor func(window int, longQty, shortQty int64) Strategy

// Registry holds a named collection of strategy constructors for lookup and
// enumeration. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]Constructor),
	}
}

// Register adds a constructor under name, replacing any existing entry.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Create instantiates the strategy registered under name. The second return
// value is false when no constructor is registered for that name.
func (r *Registry) Create(name string, window int, longQty, shortQty int64) (Strategy, bool) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ctor(window, longQty, shortQty), true
}

// Has reports whether a constructor is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
