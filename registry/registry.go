// Package registry tracks live peer connections and their transport
// state, independent of the Endpoint's topic/service routing tables —
// grounded on gohab's server.DeviceRegistry (server/registery.go),
// generalized from device identity to bare connection handles since a
// bridge endpoint has no device/capability model of its own.
package registry

import (
	"sync"
	"time"

	"github.com/relaybridge/wsbridge/transport"
)

// Entry describes one tracked connection.
type Entry struct {
	Handle    transport.Handle
	State     transport.ConnState
	OpenedAt  time.Time
}

// Registry is a thread-safe store of connection entries.
type Registry struct {
	mu    sync.RWMutex
	store map[transport.Handle]*Entry
}

func New() *Registry {
	return &Registry{store: make(map[transport.Handle]*Entry)}
}

func (r *Registry) Open(handle transport.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[handle] = &Entry{Handle: handle, State: transport.StateOpen, OpenedAt: time.Now()}
}

func (r *Registry) Close(handle transport.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, handle)
}

func (r *Registry) Get(handle transport.Handle) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.store[handle]
	return e, ok
}

func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.store))
	for _, e := range r.store {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
