// Package ledger adapts the on-chain subject program to the aggregation
// engine: state reads, signed transition submission and address derivation.
package ledger

import (
	"context"
	"strings"

	"vote-aggregator/internal/models"
)

// Status is the on-chain lifecycle state of a subject.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
)

// SubjectState is the subset of the subject account the engine reads.
type SubjectState struct {
	Address string `json:"address"`
	Status  Status `json:"status"`
	Height  int64  `json:"height"`
}

// Finalized reports whether the subject reached a terminal status.
func (s SubjectState) Finalized() bool {
	switch s.Status {
	case StatusApproved, StatusRejected, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// Eligible reports whether a vote outcome can still be applied.
// Proposals transition out of pending, disputes out of active voting.
func (s SubjectState) Eligible(t models.SubjectType) bool {
	switch t {
	case models.SubjectProposal:
		return s.Status == StatusPending
	case models.SubjectDispute:
		return s.Status == StatusActive
	}
	return false
}

// Reflects reports whether the state is the terminal status an outcome
// would have produced.
func (s SubjectState) Reflects(t models.SubjectType, outcome models.Outcome) bool {
	action, err := ActionFor(t, outcome)
	if err != nil {
		return false
	}
	return s.Status == action.resultStatus()
}

// Receipt identifies an accepted transition transaction.
type Receipt struct {
	TxHash string `json:"txHash"`
	Height int64  `json:"height,omitempty"`
}

// Client is the ledger capability consumed by the engine.
type Client interface {
	FetchState(ctx context.Context, subject models.Subject) (SubjectState, error)
	SubmitTransition(ctx context.Context, subject models.Subject, decision models.Decision) (Receipt, error)
	DeriveSubjectAddress(subject models.Subject) (string, error)
}

func normalizeStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}
