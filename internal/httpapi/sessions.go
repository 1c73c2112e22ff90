package httpapi

import (
	"sync"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/negotiation"
)

// SessionRegistry holds the live negotiation coordinator for each booking
// this gateway instance owns.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*negotiation.Coordinator
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*negotiation.Coordinator)}
}

// Add registers a session. A duplicate create for the same booking id
// displaces the old session, which must stop polling, not leak.
func (r *SessionRegistry) Add(c *negotiation.Coordinator) {
	r.mu.Lock()
	prev, ok := r.sessions[c.ID()]
	r.sessions[c.ID()] = c
	r.mu.Unlock()
	if ok && prev != c {
		prev.Close()
	}
}

func (r *SessionRegistry) Get(bookingID string) (*negotiation.Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[bookingID]
	return c, ok
}

// Remove detaches and closes one session. Closing is idempotent so a
// concurrent shutdown is harmless.
func (r *SessionRegistry) Remove(bookingID string) bool {
	r.mu.Lock()
	c, ok := r.sessions[bookingID]
	delete(r.sessions, bookingID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// CloseAll tears down every session, used on process shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*negotiation.Coordinator)
	r.mu.Unlock()
	for _, c := range sessions {
		c.Close()
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
