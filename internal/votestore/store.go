// Package votestore keeps per-subject ballots in a shared cache ahead of the
// on-chain commit. The store is a staging area: tallies are recomputed from
// the live ballots on every read.
package votestore

import (
	"context"
	"errors"

	"vote-aggregator/internal/models"
)

// ErrStoreUnavailable means the backing cache could not be reached; the
// caller must not assume the operation took effect.
var ErrStoreUnavailable = errors.New("vote store unavailable")

// Store is the tally store used by intake, the engine and the scheduler.
type Store interface {
	// CastVote records or replaces the voter's ballot and marks the subject pending.
	CastVote(ctx context.Context, vote models.Vote) error
	// Votes lists the live ballots of a subject ordered by voter.
	Votes(ctx context.Context, subject models.Subject) ([]models.Vote, error)
	// Tally sums the live ballots of a subject.
	Tally(ctx context.Context, subject models.Subject) (models.Tally, error)
	// PendingSubjects lists subjects with ballots that were not processed yet.
	PendingSubjects(ctx context.Context) ([]models.Subject, error)
	// MarkProcessed evicts the subject's ballots and drops it from the pending set.
	MarkProcessed(ctx context.Context, subject models.Subject) error
	Ping(ctx context.Context) error
}
