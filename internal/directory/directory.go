// Package directory resolves driver display profiles (name, vehicle, rating)
// for the offers a booking collects. The directory is an external, read-only
// dataset; a missed lookup is never an error, the offer just keeps whatever
// the booking service sent.
package directory

import (
	"context"
	"sync"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// Directory looks up one driver profile. The boolean reports whether the
// driver is known.
type Directory interface {
	Profile(ctx context.Context, driverID string) (booking.DriverRef, bool)
}

// MemoryDirectory serves profiles from a fixed in-memory set. Used in tests
// and in deployments without a profile store.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]booking.DriverRef
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]booking.DriverRef)}
}

func (m *MemoryDirectory) Put(p booking.DriverRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryDirectory) Profile(ctx context.Context, driverID string) (booking.DriverRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[driverID]
	return p, ok
}

// Cached wraps a slower directory with a write-through in-process cache.
// Negative results are not cached so a driver who registers mid-session is
// picked up on the next poll.
type Cached struct {
	next Directory

	mu    sync.RWMutex
	cache map[string]booking.DriverRef
}

func NewCached(next Directory) *Cached {
	return &Cached{next: next, cache: make(map[string]booking.DriverRef)}
}

func (c *Cached) Profile(ctx context.Context, driverID string) (booking.DriverRef, bool) {
	c.mu.RLock()
	p, ok := c.cache[driverID]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	p, ok = c.next.Profile(ctx, driverID)
	if !ok {
		return booking.DriverRef{}, false
	}
	c.mu.Lock()
	c.cache[driverID] = p
	c.mu.Unlock()
	return p, true
}
