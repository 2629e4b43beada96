// Package stake resolves a voter's on-chain stake for stake-weighted intake.
package stake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"vote-aggregator/internal/logger"
)

const (
	defaultCacheSize = 10_000
	lookupTimeout    = 10 * time.Second
)

// ErrNoStake means the voter has no positive stake and cannot vote.
var ErrNoStake = errors.New("voter has no stake")

// Source looks up a voter's current stake on the ledger.
type Source interface {
	Stake(ctx context.Context, voterID string) (float64, error)
}

// Resolver caches stake lookups for ttl. Concurrent misses for the same
// voter share one ledger query.
type Resolver struct {
	source Source
	cache  *expirable.LRU[string, float64]
	group  singleflight.Group
	log    logrus.FieldLogger
}

// NewResolver returns nil when source is nil.
func NewResolver(source Source, ttl time.Duration, log logrus.FieldLogger) *Resolver {
	if source == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		source: source,
		cache:  expirable.NewLRU[string, float64](defaultCacheSize, nil, ttl),
		log:    logger.Or(log).WithField("component", "stake"),
	}
}

// Resolve returns the voter's stake, or ErrNoStake when it is not positive.
func (r *Resolver) Resolve(ctx context.Context, voterID string) (float64, error) {
	if r == nil {
		return 0, errors.New("stake resolver not configured")
	}
	if w, ok := r.cache.Get(voterID); ok {
		return checkStake(w)
	}

	// The shared lookup outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := r.group.DoChan(voterID, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		w, err := r.source.Stake(lookupCtx, voterID)
		if err != nil {
			return 0.0, err
		}
		r.cache.Add(voterID, w)
		r.log.WithFields(logrus.Fields{"voter": voterID, "stake": w}).Debug("stake cached")
		return w, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, fmt.Errorf("lookup stake: %w", res.Err)
		}
		return checkStake(res.Val.(float64))
	}
}

// Forget drops a cached entry.
func (r *Resolver) Forget(voterID string) {
	if r != nil {
		r.cache.Remove(voterID)
	}
}

func checkStake(w float64) (float64, error) {
	if w <= 0 {
		return 0, ErrNoStake
	}
	return w, nil
}
