package aggregator

import (
	"errors"
	"fmt"
	"time"

	"vote-aggregator/internal/models"
)

// ratioTolerance absorbs float error so a ratio equal to the threshold passes.
const ratioTolerance = 1e-9

// Policy turns a tally into an outcome.
type Policy struct {
	MinVotesRequired  int
	ProposalThreshold float64
	DisputeThreshold  float64
}

func (p Policy) Validate() error {
	var errs []error
	if p.MinVotesRequired < 1 {
		errs = append(errs, errors.New("min votes required must be at least 1"))
	}
	if !validThreshold(p.ProposalThreshold) {
		errs = append(errs, fmt.Errorf("proposal threshold %v outside (0,1]", p.ProposalThreshold))
	}
	if !validThreshold(p.DisputeThreshold) {
		errs = append(errs, fmt.Errorf("dispute threshold %v outside (0,1]", p.DisputeThreshold))
	}
	return errors.Join(errs...)
}

func validThreshold(v float64) bool {
	return v > 0 && v <= 1
}

// Threshold is the approval ratio the subject type needs.
func (p Policy) Threshold(t models.SubjectType) float64 {
	if t == models.SubjectDispute {
		return p.DisputeThreshold
	}
	return p.ProposalThreshold
}

// Decide applies the quorum rule, then the inclusive threshold rule.
func (p Policy) Decide(subject models.Subject, tally models.Tally, at time.Time) models.Decision {
	d := models.Decision{
		Subject:       subject,
		ApproveWeight: tally.ApproveWeight,
		RejectWeight:  tally.RejectWeight,
		TotalVoters:   tally.TotalVoters,
		EvaluatedAt:   at,
	}
	switch {
	case tally.TotalVoters < p.MinVotesRequired || tally.TotalWeight() <= 0:
		d.Outcome = models.OutcomeInsufficientQuorum
	case tally.ApprovalRatio()+ratioTolerance >= p.Threshold(subject.Type):
		d.Outcome = models.OutcomeApproved
	default:
		d.Outcome = models.OutcomeRejected
	}
	return d
}
