// Package aggregator evaluates pending subjects: it tallies their ballots,
// applies the decision policy and commits the outcome to the ledger under a
// per-subject lock.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/lock"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/metrics"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/votestore"
)

const releaseTimeout = 5 * time.Second

// Config holds the engine's policy and submission tuning.
type Config struct {
	Policy         Policy
	LockTTL        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// CallTimeout bounds every ledger call the engine makes.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:         Policy{MinVotesRequired: 3, ProposalThreshold: 0.6, DisputeThreshold: 0.5},
		LockTTL:        5 * time.Minute,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		CallTimeout:    15 * time.Second,
	}
}

// MaxHold is the longest one evaluation can keep its lease: the state
// fetch, a submit and a stale-state re-fetch per attempt, and the jittered
// backoff waits in between.
func (c Config) MaxHold() time.Duration {
	calls := time.Duration(2*c.MaxAttempts+1) * c.CallTimeout
	waits := time.Duration(c.MaxAttempts-1) * (c.MaxBackoff + c.MaxBackoff/2)
	return calls + waits
}

// Journal receives every result that carried a submittable decision.
type Journal interface {
	Record(ctx context.Context, r Result) error
}

type Option func(*Engine)

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = logger.Or(log) }
}

func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is safe for concurrent use; the subject lock is its only
// serialization point.
type Engine struct {
	store   votestore.Store
	locker  lock.Locker
	ledger  ledger.Client
	cfg     Config
	journal Journal
	metrics *metrics.Registry
	log     logrus.FieldLogger
	now     func() time.Time
}

func New(store votestore.Store, locker lock.Locker, client ledger.Client, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("max attempts must be at least 1")
	}
	if cfg.CallTimeout <= 0 {
		return nil, errors.New("call timeout must be positive")
	}
	if cfg.LockTTL <= cfg.MaxHold() {
		return nil, fmt.Errorf("lock ttl %s must exceed %s, the longest an evaluation can hold it", cfg.LockTTL, cfg.MaxHold())
	}
	e := &Engine{
		store:  store,
		locker: locker,
		ledger: client,
		cfg:    cfg,
		log:    logger.Or(nil),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "aggregator")
	return e, nil
}

// Policy returns the active decision policy.
func (e *Engine) Policy() Policy {
	return e.cfg.Policy
}

// EvaluateSubject runs one aggregation attempt for subject. The returned
// error is non-nil only for failed results.
func (e *Engine) EvaluateSubject(ctx context.Context, subject models.Subject) (Result, error) {
	res, err := e.evaluate(ctx, subject)
	e.observe(ctx, res)
	return res, err
}

func (e *Engine) evaluate(ctx context.Context, subject models.Subject) (Result, error) {
	res := Result{Subject: subject, Disposition: DispositionNoAction}
	log := e.log.WithField("subject", subject.Key())

	// Locks are keyed by ledger account so every spelling of a subject
	// contends for the same lease.
	account, err := e.ledger.DeriveSubjectAddress(subject)
	if err != nil {
		res.Reason = ReasonNotEligible
		res.Error = err.Error()
		return res, nil
	}
	lease, err := e.locker.Acquire(ctx, account, e.cfg.LockTTL)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		log.Debug("lock held elsewhere, skipping")
		res.Reason = ReasonLockHeld
		return res, nil
	case err != nil:
		log.WithError(err).Warn("acquire lock")
		res.Reason = ReasonStoreUnavailable
		res.Error = err.Error()
		return res, nil
	}
	defer e.release(lease, log)

	state, err := e.fetchState(ctx, subject)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			log.Warn("subject not found on ledger")
			res.Reason = ReasonNotEligible
		} else {
			log.WithError(err).Warn("fetch subject state")
			res.Reason = ReasonLedgerUnavailable
		}
		res.Error = err.Error()
		return res, nil
	}
	if !state.Eligible(subject.Type) {
		res.Reason = ReasonNotEligible
		if state.Finalized() {
			res.Reason = ReasonFinalized
			if err := e.store.MarkProcessed(ctx, subject); err != nil {
				log.WithError(err).Warn("evict finalized subject")
				res.Reason = ReasonNotEligible
			}
		}
		log.WithField("status", state.Status).Debug("subject not eligible")
		return res, nil
	}

	tally, err := e.store.Tally(ctx, subject)
	if err != nil {
		log.WithError(err).Warn("read tally")
		res.Reason = ReasonStoreUnavailable
		res.Error = err.Error()
		return res, nil
	}

	decision := e.cfg.Policy.Decide(subject, tally, e.now().UTC())
	res.Decision = &decision
	log = log.WithFields(logrus.Fields{
		"outcome": decision.Outcome,
		"approve": decision.ApproveWeight,
		"reject":  decision.RejectWeight,
		"voters":  decision.TotalVoters,
	})
	if !decision.Outcome.Submittable() {
		log.Debug("quorum not reached")
		res.Disposition = DispositionInsufficientQuorum
		return res, nil
	}

	out := e.submit(ctx, subject, decision)
	res.Attempts = out.attempts
	switch out.class {
	case classApplied:
		res.TxHash = out.receipt.TxHash
		res.Disposition = DispositionCommitted
		if out.raced {
			res.Disposition = DispositionCommittedByRace
		}
		// broadcast_tx_sync only proves the tx passed CheckTx. Ballots are
		// evicted once the ledger shows the subject finalized; otherwise the
		// next sweep evicts it or, if the tx failed in the block, decides again.
		if out.raced || e.finalized(ctx, subject) {
			if err := e.store.MarkProcessed(ctx, subject); err != nil {
				log.WithError(err).Warn("mark processed after commit")
			}
		} else {
			log.Info("transition accepted, eviction waits for finality")
		}
		log.WithFields(logrus.Fields{
			"tx_hash":  res.TxHash,
			"attempts": res.Attempts,
			"race":     out.raced,
		}).Info("decision committed")
		return res, nil
	default:
		res.Disposition = DispositionFailed
		res.Reason = ReasonRetriesExhausted
		if out.class == classFatal && ctx.Err() == nil {
			res.Reason = ReasonRejectedByLedger
		}
		res.Error = out.err.Error()
		log.WithError(out.err).WithFields(logrus.Fields{
			"attempts": res.Attempts,
			"reason":   res.Reason,
		}).Error("decision not committed")
		return res, fmt.Errorf("commit %s: %w", subject.Key(), out.err)
	}
}

func (e *Engine) fetchState(ctx context.Context, subject models.Subject) (ledger.SubjectState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.ledger.FetchState(callCtx, subject)
}

func (e *Engine) finalized(ctx context.Context, subject models.Subject) bool {
	state, err := e.fetchState(ctx, subject)
	return err == nil && state.Finalized()
}

// release runs on a detached context so caller cancellation cannot leave
// the lock to expire on its own.
func (e *Engine) release(lease lock.Lease, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := e.locker.Release(ctx, lease); err != nil {
		log.WithError(err).Warn("release lock")
	}
}

func (e *Engine) observe(ctx context.Context, res Result) {
	e.metrics.ObserveEvaluation(string(res.Disposition), string(res.Reason), res.Attempts)
	if e.journal == nil || res.Decision == nil || !res.Decision.Outcome.Submittable() {
		return
	}
	if err := e.journal.Record(context.WithoutCancel(ctx), res); err != nil {
		e.log.WithError(err).WithField("subject", res.Subject.Key()).Warn("journal decision")
	}
}
