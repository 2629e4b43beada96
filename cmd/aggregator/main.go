// Package main runs the vote aggregation service: HTTP intake, the sweep
// scheduler and the ledger commit path.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/api"
	"vote-aggregator/internal/config"
	dbpkg "vote-aggregator/internal/db"
	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/lock"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/metrics"
	"vote-aggregator/internal/ratelimiter"
	"vote-aggregator/internal/scheduler"
	"vote-aggregator/internal/stake"
	"vote-aggregator/internal/votestore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Debug, cfg.LogFormat)
	log.Infof("vote aggregator starting: %s", cfg.DebugString())

	if err := run(cfg, log); err != nil {
		log.Fatalf("aggregator stopped: %v", err)
	}
	log.Info("aggregator stopped")
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gormDB, err := dbpkg.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if gormDB != nil {
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("decision journal enabled")
	} else {
		log.Info("DATABASE_URL not provided, decision journal disabled")
	}
	journal := dbpkg.NewJournal(gormDB)

	store, locker, closeCache := openCache(ctx, cfg, log)
	defer closeCache()

	var signer *ledger.Signer
	if cfg.Submit.SignerSecret != "" {
		if signer, err = ledger.NewSigner(cfg.Submit.SignerSecret); err != nil {
			return err
		}
		log.WithField("signer", signer.Address()).Info("transition signer loaded")
	} else {
		log.Warn("SIGNER_SECRET not set, ledger submissions will be rejected")
	}

	client, err := ledger.NewCometClient(cfg.RPCURL, cfg.WSURL(), signer, cfg.Submit.CallTimeout, log)
	if err != nil {
		return err
	}
	if st, err := client.Status(ctx); err != nil {
		log.WithError(err).Warn("ledger node not reachable yet")
	} else {
		log.WithFields(map[string]any{"network": st.Network, "height": st.LatestHeight}).Info("ledger node reachable")
	}
	watcher := ledger.NewWatcher(cfg.RPCURL, cfg.WSURL(), log)
	go func() { _ = watcher.Run(ctx) }()

	m := metrics.NewRegistry()
	engine, err := aggregator.New(store, locker, client, aggregator.Config{
		Policy: aggregator.Policy{
			MinVotesRequired:  cfg.Policy.MinVotesRequired,
			ProposalThreshold: cfg.Policy.ProposalThreshold,
			DisputeThreshold:  cfg.Policy.DisputeThreshold,
		},
		LockTTL:        cfg.Submit.LockTTL,
		MaxAttempts:    cfg.Submit.MaxAttempts,
		InitialBackoff: cfg.Submit.InitialBackoff,
		MaxBackoff:     cfg.Submit.MaxBackoff,
		CallTimeout:    cfg.Submit.CallTimeout,
	},
		aggregator.WithLogger(log),
		aggregator.WithJournal(journal),
		aggregator.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	sched := scheduler.New(engine, store, scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Concurrency: cfg.Scheduler.Concurrency,
	}, log, m)
	if cfg.Scheduler.AutoStart {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	opts := api.Options{
		Store:       store,
		Scheduler:   sched,
		Blocks:      watcher,
		Limiter:     ratelimiter.New(cfg.Intake.RateLimitRPS, cfg.Intake.RateLimitBurst, 10*time.Minute),
		Metrics:     m,
		Logger:      log,
		AdminToken:  cfg.AdminToken,
		BaseContext: ctx,
	}
	if journal.Enabled() {
		opts.Journal = journal
	}
	if cfg.Intake.WeightSource == config.WeightSourceStake {
		opts.Stake = stake.NewResolver(client, cfg.Intake.StakeCacheTTL, log)
		log.Info("vote weights resolved from on-chain stake")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	// Let an in-flight sweep finish its commits before the cache closes.
	sched.Stop()
	return runErr
}

// openCache connects the vote store and subject lock to Redis, or to
// in-process fallbacks when no address is configured.
func openCache(ctx context.Context, cfg config.Config, log *logger.Logger) (votestore.Store, lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		log.Warn("REDIS_ADDR not set, using in-process vote store (single replica only)")
		return votestore.NewMemory(), lock.NewMemory(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis not reachable yet")
	} else {
		log.WithField("addr", cfg.Redis.Addr).Info("redis connected")
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("close redis")
		}
	}
	return votestore.NewRedis(rdb, cfg.Redis.KeyPrefix), lock.NewRedis(rdb, cfg.Redis.KeyPrefix), closeFn
}
