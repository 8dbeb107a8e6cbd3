// Package registry holds the in-memory table of live session handles. It is
// the single structure mutated from multiple concurrent task contexts; all
// other state is partitioned by session id.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wpphub/wpphub/internal/client"
)

var (
	// ErrSessionNotFound means no live handle exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotReady means a handle exists but the client is not ready.
	ErrSessionNotReady = errors.New("session not ready")
)

// Handle is the live state of one session. Ctx is cancelled when the session
// is destroyed or disconnects, which cooperatively stops in-flight work.
type Handle struct {
	Client      client.Client
	IsReady     bool
	IsRestoring bool
	LastRestore time.Time
	CreatedAt   time.Time
	Ctx         context.Context
	Cancel      context.CancelFunc
}

// Registry maps session id to its live handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Get returns a snapshot of the handle for id, taken under the lock. Flag
// writes made through MarkReady after the call are not visible in the copy.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, false
	}
	cp := *h
	return &cp, true
}

// Ready returns a snapshot of the handle for id, failing with
// ErrSessionNotFound or ErrSessionNotReady.
func (r *Registry) Ready(id string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !h.IsReady {
		return nil, ErrSessionNotReady
	}
	cp := *h
	return &cp, nil
}

// Set registers or replaces the handle for id.
func (r *Registry) Set(id string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// MarkReady flips the readiness flag for id. Returns false if id is absent.
func (r *Registry) MarkReady(id string, ready bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	h.IsReady = ready
	return true
}

// Delete removes the handle for id and cancels its context. Returns the
// removed handle, if any.
func (r *Registry) Delete(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, false
	}
	delete(r.handles, id)
	if h.Cancel != nil {
		h.Cancel()
	}
	return h, true
}

// List returns the ids of all registered sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
