// Package population tracks the entities spawned by the current wave.
package population

import (
	"sync"

	"waveline/internal/domain"
)

// Registry is the set of live entity handles. A removal reported before the
// matching Add leaves a tombstone so the late Add is refused; tombstones are
// dropped on Clear.
type Registry struct {
	mu      sync.Mutex
	live    map[domain.EntityHandle]struct{}
	gone    map[domain.EntityHandle]struct{}
	waiters []chan struct{}
}

func New() *Registry {
	return &Registry{
		live: make(map[domain.EntityHandle]struct{}),
		gone: make(map[domain.EntityHandle]struct{}),
	}
}

// Add registers h. It returns false if h is already live or was removed before
// it was added.
func (r *Registry) Add(h domain.EntityHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; ok {
		return false
	}
	if _, ok := r.gone[h]; ok {
		delete(r.gone, h)
		return false
	}
	r.live[h] = struct{}{}
	return true
}

// Remove drops h and reports whether it was live. Removing an unknown handle
// is a no-op apart from the tombstone.
func (r *Registry) Remove(h domain.EntityHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; !ok {
		r.gone[h] = struct{}{}
		return false
	}
	delete(r.live, h)
	if len(r.live) == 0 {
		r.wakeLocked()
	}
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Clear empties the registry and returns the handles that were live.
func (r *Registry) Clear() []domain.EntityHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EntityHandle, 0, len(r.live))
	for h := range r.live {
		out = append(out, h)
	}
	r.live = make(map[domain.EntityHandle]struct{})
	r.gone = make(map[domain.EntityHandle]struct{})
	r.wakeLocked()
	return out
}

// Empty returns a channel closed once the registry holds no entities. If it
// is already empty the channel is closed on return.
func (r *Registry) Empty() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	if len(r.live) == 0 {
		close(ch)
		return ch
	}
	r.waiters = append(r.waiters, ch)
	return ch
}

func (r *Registry) Handles() []domain.EntityHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EntityHandle, 0, len(r.live))
	for h := range r.live {
		out = append(out, h)
	}
	return out
}

func (r *Registry) wakeLocked() {
	for _, ch := range r.waiters {
		close(ch)
	}
	r.waiters = nil
}
