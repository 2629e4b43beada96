package stake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-aggregator/internal/logger"
)

type fakeSource struct {
	calls   atomic.Int32
	stakes  map[string]float64
	err     error
	delay   time.Duration
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeSource) Stake(ctx context.Context, voterID string) (float64, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.stakes[voterID], nil
}

func TestResolveCachesLookups(t *testing.T) {
	src := &fakeSource{stakes: map[string]float64{"alice": 4}}
	r := NewResolver(src, time.Minute, logger.Discard())

	for i := 0; i < 3; i++ {
		w, err := r.Resolve(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 4.0, w)
	}
	assert.EqualValues(t, 1, src.calls.Load())

	r.Forget("alice")
	_, err := r.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestResolveRejectsZeroStake(t *testing.T) {
	r := NewResolver(&fakeSource{stakes: map[string]float64{}}, time.Minute, nil)
	_, err := r.Resolve(context.Background(), "bob")
	require.ErrorIs(t, err, ErrNoStake)
}

func TestResolveDoesNotCacheErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("node down")}
	r := NewResolver(src, time.Minute, nil)
	_, err := r.Resolve(context.Background(), "carol")
	require.Error(t, err)
	_, err = r.Resolve(context.Background(), "carol")
	require.Error(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestResolveSharesConcurrentMisses(t *testing.T) {
	src := &fakeSource{stakes: map[string]float64{"dave": 2}, delay: 50 * time.Millisecond}
	r := NewResolver(src, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := r.Resolve(context.Background(), "dave")
			assert.NoError(t, err)
			assert.Equal(t, 2.0, w)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, src.calls.Load(), int32(2))
}

func TestNilResolver(t *testing.T) {
	assert.Nil(t, NewResolver(nil, time.Minute, nil))
	var r *Resolver
	_, err := r.Resolve(context.Background(), "x")
	require.Error(t, err)
}

func TestResolveSurvivesFirstCallerCancel(t *testing.T) {
	src := &fakeSource{
		stakes:  map[string]float64{"alice": 4},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	r := NewResolver(src, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "alice")
		firstErr <- err
	}()
	<-src.entered

	type result struct {
		w   float64
		err error
	}
	second := make(chan result, 1)
	go func() {
		w, err := r.Resolve(context.Background(), "alice")
		second <- result{w, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(src.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 4.0, got.w)
	assert.EqualValues(t, 1, src.calls.Load())
}
