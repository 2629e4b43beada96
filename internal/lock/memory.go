package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Memory is an in-process Locker with an injectable clock.
type Memory struct {
	mu    sync.Mutex
	held  map[string]entry
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]entry), clock: time.Now}
}

// WithClock replaces the time source; used by tests to expire leases.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if e, ok := m.held[key]; ok && now.Before(e.expiresAt) {
		return Lease{}, ErrNotAcquired
	}
	lease := Lease{Key: key, Token: newToken(), ExpiresAt: now.Add(ttl)}
	m.held[key] = entry{token: lease.Token, expiresAt: lease.ExpiresAt}
	return lease, nil
}

func (m *Memory) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[lease.Key]
	if !ok || e.token != lease.Token || !m.clock().Before(e.expiresAt) {
		return ErrNotHeld
	}
	delete(m.held, lease.Key)
	return nil
}

// Held reports whether key currently has a live owner.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[key]
	return ok && m.clock().Before(e.expiresAt)
}

var _ Locker = (*Memory)(nil)
