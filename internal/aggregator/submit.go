package aggregator

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/models"
)

// submitClass is how a submission attempt ended.
type submitClass int

const (
	classRetryable submitClass = iota
	classApplied
	classFatal
)

type submitOutcome struct {
	class    submitClass
	receipt  ledger.Receipt
	raced    bool
	attempts int
	err      error
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxAttempts-1)), ctx)
}

// submit commits decision with bounded exponential retry. Retryable
// failures that outlive the attempt budget leave the class retryable.
func (e *Engine) submit(ctx context.Context, subject models.Subject, decision models.Decision) submitOutcome {
	var out submitOutcome
	log := e.log.WithField("subject", subject.Key())

	op := func() error {
		out.attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		receipt, err := e.ledger.SubmitTransition(callCtx, subject, decision)
		cancel()
		if err == nil {
			out.class = classApplied
			out.receipt = receipt
			return nil
		}
		out.class = e.classify(ctx, subject, decision, err)
		entry := log.WithError(err).WithField("attempt", out.attempts)
		switch out.class {
		case classApplied:
			entry.Info("transition already applied by another committer")
			out.raced = true
			return nil
		case classRetryable:
			entry.Warn("submission failed, retrying")
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(op, e.newBackOff(ctx)); err != nil {
		out.err = err
	}
	return out
}

// classify decides what a failed attempt means. Stale state triggers a
// re-read: a finalized subject counts as applied, a still eligible one as
// retryable.
func (e *Engine) classify(ctx context.Context, subject models.Subject, decision models.Decision, err error) submitClass {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return classFatal
	}
	if !errors.Is(err, ledger.ErrStaleState) {
		if ledger.Retryable(err) {
			return classRetryable
		}
		return classFatal
	}

	state, ferr := e.fetchState(ctx, subject)
	if ferr != nil {
		return classRetryable
	}
	if state.Finalized() {
		if !state.Reflects(subject.Type, decision.Outcome) {
			e.log.WithFields(logrus.Fields{
				"subject": subject.Key(),
				"status":  state.Status,
				"outcome": decision.Outcome,
			}).Warn("subject finalized with a different outcome")
		}
		return classApplied
	}
	if state.Eligible(subject.Type) {
		return classRetryable
	}
	return classFatal
}
