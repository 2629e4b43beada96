// Package lock provides the per-subject distributed mutex that serializes
// aggregation attempts across sweeps and replicas.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotAcquired means another owner holds the key.
	ErrNotAcquired = errors.New("lock held by another owner")
	// ErrNotHeld means the lease expired or was taken over before release.
	ErrNotHeld = errors.New("lock not held by lease owner")
	// ErrUnavailable means the backing cache could not be reached.
	ErrUnavailable = errors.New("lock backend unavailable")
)

// Lease is proof of ownership returned by Acquire.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker acquires with set-if-absent semantics and releases only when the
// caller's token still owns the key. Locks are not reentrant.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

func newToken() string {
	return uuid.NewString()
}
