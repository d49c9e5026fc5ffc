// Package strategy defines the pure bar-consuming contract a trading
// strategy must satisfy and a registry for looking up implementations by
// name.
package strategy

import (
	"fmt"
	"sync"

	"github.com/atlas-desktop/backtest-core/pkg/types"
)

// Strategy is evaluated once per Bar. Implementations must be pure with
// respect to the bar sequence: replaying the same bars must produce
// identical signals. A strategy must never read from or write to the
// portfolio, order manager, or broker — it only sees bars.
type Strategy interface {
	Name() string
	Configure(params map[string]any) error
	OnBar(bar types.Bar) (*types.Signal, error)
	Reset()
}

// Factory builds a fresh Strategy instance.
type Factory func() Strategy

// Registry looks up strategy factories by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Factory)}
	r.Register("ma_crossover", func() Strategy { return NewMACrossover() })
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = factory
}

// Create instantiates the strategy registered under name.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	return factory(), nil
}

// List returns the registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
