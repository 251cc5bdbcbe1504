// Package provider defines the contract shared by external calendar adapters.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jw6ventures/calsync/internal/store"
)

// Window bounds the events requested from a provider.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindowDays is the forward horizon used when none is configured.
const DefaultWindowDays = 90

// WindowFrom returns [now, now+days).
func WindowFrom(now time.Time, days int) Window {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return Window{Start: now, End: now.AddDate(0, 0, days)}
}

// Adapter fetches normalized events for one connection. Every returned event
// carries the adapter's source and a non-empty SourceEventID.
type Adapter interface {
	Kind() store.ProviderKind
	Fetch(ctx context.Context, conn store.Connection, window Window) ([]store.Event, error)
}

// Registry maps provider kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[store.ProviderKind]Adapter
}

// NewRegistry builds a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[store.ProviderKind]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its kind.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Lookup returns the adapter for kind.
func (r *Registry) Lookup(kind store.ProviderKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", kind)
	}
	return a, nil
}
