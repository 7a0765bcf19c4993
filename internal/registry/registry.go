// Package registry implements the in-memory session registry (spec
// C2): the single source of truth mapping session identifiers to live
// session records. Per the concurrency model (spec §5) the registry
// has exactly one writer — the coordinator's event loop goroutine —
// so Registry itself does not lock; it is not safe for concurrent
// mutation from multiple goroutines. Read-only snapshots taken by the
// owning goroutine are safe to hand to other code as long as callers
// don't mutate the returned slices' Session pointers.
package registry

import "github.com/evcharge/ems-coordinator/internal/domain"

// Registry holds the active session set and tracks which
// (chargerId, connectorId) pairs are occupied.
type Registry struct {
	sessions  map[string]*domain.Session
	occupancy map[domain.ConnectorKey]string // key -> sessionID
}

func New() *Registry {
	return &Registry{
		sessions:  make(map[string]*domain.Session),
		occupancy: make(map[domain.ConnectorKey]string),
	}
}

// Get returns the session by ID, or nil if absent.
func (r *Registry) Get(sessionID string) *domain.Session {
	return r.sessions[sessionID]
}

// IsOccupied reports whether a (chargerId, connectorId) pair is
// currently bound to an active session.
func (r *Registry) IsOccupied(key domain.ConnectorKey) bool {
	_, ok := r.occupancy[key]
	return ok
}

// Insert adds a new active session and marks its connector occupied.
// Callers must have already checked IsOccupied.
func (r *Registry) Insert(s *domain.Session) {
	r.sessions[s.SessionID] = s
	r.occupancy[s.Key()] = s.SessionID
}

// Remove deletes a session from the active set and frees its
// connector. It is a no-op if the session is absent.
func (r *Registry) Remove(sessionID string) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.occupancy, s.Key())
	delete(r.sessions, sessionID)
}

// Active returns all currently-registered sessions. The slice is a
// fresh copy of pointers; mutating a *Session through it mutates the
// registry's own record (sessions are reference types by design —
// there is a single writer).
func (r *Registry) Active() []*domain.Session {
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// ActiveOnCharger counts the active sessions on one charger. The
// allocator does not call it; it counts per-charger sessions from the
// slice it is given.
func (r *Registry) ActiveOnCharger(chargerID string) int {
	count := 0
	for _, s := range r.sessions {
		if s.ChargerID == chargerID {
			count++
		}
	}
	return count
}
