package models

import (
	"errors"
	"math"
	"sort"
	"time"
)

// DefaultWeight applies when a ballot carries no explicit weight.
const DefaultWeight = 1.0

var ErrInvalidWeight = errors.New("vote weight must be a positive finite number")

// Vote is one voter's live ballot on a subject. A later vote from the same
// voter replaces the earlier one.
type Vote struct {
	SubjectType SubjectType `json:"subjectType"`
	SubjectID   string      `json:"subjectId"`
	VoterID     string      `json:"voterId"`
	Choice      bool        `json:"choice"`
	Weight      float64     `json:"weight"`
	CastAt      time.Time   `json:"castAt"`
}

func (v Vote) Subject() Subject {
	return Subject{Type: v.SubjectType, ID: v.SubjectID}
}

// ValidateWeight returns DefaultWeight for a zero weight and rejects
// negative, NaN and infinite values.
func ValidateWeight(w float64) (float64, error) {
	if w == 0 {
		return DefaultWeight, nil
	}
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, ErrInvalidWeight
	}
	return w, nil
}

// Tally is derived from the live votes of a subject and never stored.
type Tally struct {
	ApproveWeight float64 `json:"approveWeight"`
	RejectWeight  float64 `json:"rejectWeight"`
	TotalVoters   int     `json:"totalVoters"`
}

// TotalWeight is approve plus reject weight.
func (t Tally) TotalWeight() float64 {
	return t.ApproveWeight + t.RejectWeight
}

// ApprovalRatio is zero when no weight was cast.
func (t Tally) ApprovalRatio() float64 {
	total := t.TotalWeight()
	if total <= 0 {
		return 0
	}
	return t.ApproveWeight / total
}

// TallyVotes sums live votes. Votes must already be deduplicated per voter;
// if a voter appears twice the later CastAt wins. Weights are summed in voter
// order so equal vote sets give bit-identical tallies.
func TallyVotes(votes []Vote) Tally {
	latest := make(map[string]Vote, len(votes))
	for _, v := range votes {
		if prev, ok := latest[v.VoterID]; ok && prev.CastAt.After(v.CastAt) {
			continue
		}
		latest[v.VoterID] = v
	}
	voters := make([]string, 0, len(latest))
	for id := range latest {
		voters = append(voters, id)
	}
	sort.Strings(voters)

	var t Tally
	for _, id := range voters {
		v := latest[id]
		if v.Choice {
			t.ApproveWeight += v.Weight
		} else {
			t.RejectWeight += v.Weight
		}
	}
	t.TotalVoters = len(latest)
	return t
}
