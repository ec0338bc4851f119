// Package membus provides an in-process implementation of
// orchestrator.Bus for dev and testing.
package membus

import (
	"context"
	"sync"

	"github.com/linnemanlabs/warden/internal/orchestrator"
)

// Bus fans events out to per-kind subscribers synchronously, in
// subscription order. Publish returns after every handler has run, which
// keeps tests deterministic.
type Bus struct {
	mu   sync.RWMutex
	subs map[orchestrator.Kind][]orchestrator.Handler
}

// New initializes an empty in-process bus.
func New() *Bus {
	return &Bus{subs: make(map[orchestrator.Kind][]orchestrator.Handler)}
}

// Subscribe registers a handler for the kind.
func (b *Bus) Subscribe(kind orchestrator.Kind, h orchestrator.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
	return nil
}

// Publish delivers the event to every subscriber of its kind.
func (b *Bus) Publish(ctx context.Context, ev *orchestrator.Event) error {
	b.mu.RLock()
	handlers := append([]orchestrator.Handler(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}
