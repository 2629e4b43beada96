package aggregator

import "vote-aggregator/internal/models"

// Disposition is what an evaluation did with a subject.
type Disposition string

const (
	DispositionNoAction           Disposition = "no_action"
	DispositionInsufficientQuorum Disposition = "insufficient_quorum"
	DispositionCommitted          Disposition = "committed"
	DispositionCommittedByRace    Disposition = "committed_by_race"
	DispositionFailed             Disposition = "failed"
)

// Reason qualifies no_action and failed dispositions.
type Reason string

const (
	ReasonLockHeld          Reason = "lock_held"
	ReasonNotEligible       Reason = "not_eligible"
	ReasonFinalized         Reason = "finalized"
	ReasonStoreUnavailable  Reason = "store_unavailable"
	ReasonLedgerUnavailable Reason = "ledger_unavailable"
	ReasonRejectedByLedger  Reason = "rejected_by_ledger"
	ReasonRetriesExhausted  Reason = "retries_exhausted"
)

// Result is the outcome of one EvaluateSubject call.
type Result struct {
	Subject     models.Subject   `json:"subject"`
	Disposition Disposition      `json:"disposition"`
	Reason      Reason           `json:"reason,omitempty"`
	Decision    *models.Decision `json:"decision,omitempty"`
	TxHash      string           `json:"txHash,omitempty"`
	Attempts    int              `json:"attempts,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Committed reports whether the subject's decision is now on-chain.
func (r Result) Committed() bool {
	return r.Disposition == DispositionCommitted || r.Disposition == DispositionCommittedByRace
}

func (r Result) Failed() bool {
	return r.Disposition == DispositionFailed
}

// Pending reports whether the subject stays in the pending set.
func (r Result) Pending() bool {
	return !r.Committed() && r.Reason != ReasonFinalized
}
