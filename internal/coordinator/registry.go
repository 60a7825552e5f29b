// Package coordinator implements the connection-facing half of the Censer
// fabric. This file implements the registry tracking the live fleet.
package coordinator

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Registry is the thread-safe collection of admitted worker handles: the
// coordinator's entire view of the fleet. A handle appears here if and only
// if it is presumed live: admission happens after a successful handshake,
// eviction on graceful disconnect or on any detected transport fault.
//
// Concurrency Model:
//   - Admission and eviction take the write lock.
//   - Count and iteration take the read lock; iteration runs the action over
//     a snapshot taken under the lock, so concurrent admit/evict never
//     corrupts an in-progress sweep.
//
// Eviction is idempotent: a failed heartbeat and an explicit disconnect may
// race to evict the same handle, and the loser must be a harmless no-op.
type Registry struct {
	mu      sync.RWMutex
	handles []*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Admit inserts a handle into the fleet. O(1) amortized. The caller is
// responsible for only admitting handles whose construction succeeded.
func (r *Registry) Admit(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
}

// Evict removes a handle by identity. A handle that is not present is
// ignored, so racing eviction paths converge on the same final state.
func (r *Registry) Evict(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := slices.Index(r.handles, h); idx >= 0 {
		r.handles = slices.Delete(r.handles, idx, idx+1)
	}
}

// Count returns the current fleet size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Handles returns a snapshot of the current fleet. The slice is a copy and
// safe to hold across registry mutations.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handles)
}

// ForEach applies action to every handle in a snapshot of the fleet. The
// action runs outside the registry lock, so it may issue remote operations
// or evict handles without deadlocking the registry.
func (r *Registry) ForEach(action func(*Handle)) {
	for _, h := range r.Handles() {
		action(h)
	}
}

// DisposeAll disconnects every handle and clears the registry. Irreversible;
// each disconnect is awaited so the GOODBYEs are actually on the wire when
// DisposeAll returns.
func (r *Registry) DisposeAll() {
	for _, h := range r.Handles() {
		h.Disconnect().Await()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = nil
}
