package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/logger"
)

const (
	watcherSubscriber = "voteagg"
	newBlockQuery     = "tm.event = 'NewBlock'"
)

// eventClient is the websocket side of the CometBFT RPC client.
type eventClient interface {
	Start() error
	Stop() error
	Subscribe(ctx context.Context, subscriber, query string, outCapacity ...int) (<-chan rpccoretypes.ResultEvent, error)
	UnsubscribeAll(ctx context.Context, subscriber string) error
}

// BlockInfo is the latest block seen by the watcher.
type BlockInfo struct {
	Height     int64     `json:"height"`
	BlockTime  time.Time `json:"blockTime"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Watcher follows NewBlock events so the service can report ledger liveness.
// It reconnects when no block arrives within the stall window.
type Watcher struct {
	dial  func() (eventClient, error)
	stall time.Duration
	retry time.Duration
	log   logrus.FieldLogger

	mu     sync.RWMutex
	latest BlockInfo
}

func NewWatcher(rpcURL, wsPath string, log logrus.FieldLogger) *Watcher {
	return newWatcher(func() (eventClient, error) {
		return rpchttp.New(rpcURL, wsPath)
	}, log)
}

func newWatcher(dial func() (eventClient, error), log logrus.FieldLogger) *Watcher {
	return &Watcher{
		dial:  dial,
		stall: 30 * time.Second,
		retry: 3 * time.Second,
		log:   logger.Or(log).WithField("component", "watcher"),
	}
}

// Latest returns the most recent block and whether any was seen.
func (w *Watcher) Latest() (BlockInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, w.latest.Height > 0
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.runOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Warn("block subscription lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retry):
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	client, err := w.dial()
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.UnsubscribeAll(unsubCtx, watcherSubscriber)
		_ = client.Stop()
	}()

	blocks, err := client.Subscribe(ctx, watcherSubscriber, newBlockQuery)
	if err != nil {
		return fmt.Errorf("subscribe NewBlock: %w", err)
	}
	w.log.Info("subscribed to new blocks")

	lastEvent := time.Now()
	watchdog := time.NewTicker(w.stall / 3)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-blocks:
			if !ok {
				return fmt.Errorf("block channel closed")
			}
			lastEvent = time.Now()
			w.handle(ev)
		case <-watchdog.C:
			if time.Since(lastEvent) > w.stall {
				return fmt.Errorf("no blocks for %s", w.stall)
			}
		}
	}
}

func (w *Watcher) handle(ev rpccoretypes.ResultEvent) {
	var block *cmttypes.Block
	switch data := ev.Data.(type) {
	case cmttypes.EventDataNewBlock:
		block = data.Block
	case *cmttypes.EventDataNewBlock:
		if data != nil {
			block = data.Block
		}
	}
	if block == nil {
		w.log.Debugf("unexpected block event data %T", ev.Data)
		return
	}
	w.mu.Lock()
	if block.Height > w.latest.Height {
		w.latest = BlockInfo{Height: block.Height, BlockTime: block.Time, ReceivedAt: time.Now()}
	}
	w.mu.Unlock()
}
