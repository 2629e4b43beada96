package models

import "time"

// Outcome is the result of applying the decision policy to a tally.
type Outcome string

const (
	OutcomeApproved           Outcome = "APPROVED"
	OutcomeRejected           Outcome = "REJECTED"
	OutcomeInsufficientQuorum Outcome = "INSUFFICIENT_QUORUM"
)

// Submittable reports whether the outcome maps to a ledger transition.
func (o Outcome) Submittable() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// Decision is produced once per evaluation and consumed by a single ledger
// submission. It is not persisted as an entity.
type Decision struct {
	Subject       Subject   `json:"subject"`
	Outcome       Outcome   `json:"outcome"`
	ApproveWeight float64   `json:"approveWeight"`
	RejectWeight  float64   `json:"rejectWeight"`
	TotalVoters   int       `json:"totalVoters"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}
