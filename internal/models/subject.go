// Package models defines the vote, tally and decision types shared by the
// aggregation service, plus the database models of the decision journal.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto/tmhash"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// AddressLength is the decoded size of a ledger account address.
const AddressLength = 32

const proposalSeed = "proposal:"

// SubjectType tells which kind of subject a vote is cast on.
type SubjectType string

const (
	SubjectProposal SubjectType = "PROPOSAL"
	SubjectDispute  SubjectType = "DISPUTE"
)

var (
	ErrInvalidSubjectType = errors.New("invalid subject type")
	ErrInvalidSubjectID   = errors.New("invalid subject id")
	ErrInvalidVoterID     = errors.New("invalid voter id")
)

// ParseSubjectType accepts either case of the wire names.
func ParseSubjectType(s string) (SubjectType, error) {
	switch SubjectType(strings.ToUpper(strings.TrimSpace(s))) {
	case SubjectProposal:
		return SubjectProposal, nil
	case SubjectDispute:
		return SubjectDispute, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectType, s)
	}
}

func (t SubjectType) Valid() bool {
	return t == SubjectProposal || t == SubjectDispute
}

// Subject is a proposal or dispute awaiting an approve/reject decision.
type Subject struct {
	Type SubjectType `json:"subjectType"`
	ID   string      `json:"subjectId"`
}

// NewSubject validates and normalizes a subject reference.
// Accepted ids are base58 account addresses and, for proposals only,
// canonical UUID proposal identifiers. A UUID is replaced by the proposal's
// account address, so both forms name the same subject.
func NewSubject(subjectType, subjectID string) (Subject, error) {
	t, err := ParseSubjectType(subjectType)
	if err != nil {
		return Subject{}, err
	}
	id := strings.TrimSpace(subjectID)
	if IsAddress(id) {
		return Subject{Type: t, ID: id}, nil
	}
	if t == SubjectProposal {
		if u, err := uuid.Parse(id); err == nil && u.String() == strings.ToLower(id) {
			return Subject{Type: t, ID: ProposalAddress(u)}, nil
		}
	}
	return Subject{}, fmt.Errorf("%w: %q", ErrInvalidSubjectID, subjectID)
}

// Key is the stable "TYPE:ID" form used in cache keys and logs.
func (s Subject) Key() string {
	return string(s.Type) + ":" + s.ID
}

func (s Subject) String() string {
	return s.Key()
}

// ParseSubjectKey reverses Key.
func ParseSubjectKey(key string) (Subject, error) {
	typ, id, ok := strings.Cut(key, ":")
	if !ok {
		return Subject{}, fmt.Errorf("%w: malformed key %q", ErrInvalidSubjectID, key)
	}
	return NewSubject(typ, id)
}

// ProposalAddress derives the account address the ledger program assigns
// to a proposal identifier.
func ProposalAddress(id uuid.UUID) string {
	seed := append([]byte(proposalSeed), id[:]...)
	return base58.Encode(tmhash.Sum(seed))
}

// IsAddress reports whether s is a base58 encoded 32 byte account address.
func IsAddress(s string) bool {
	if s == "" {
		return false
	}
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == AddressLength
}

// NormalizeVoterID validates a wallet address.
func NormalizeVoterID(voterID string) (string, error) {
	id := strings.TrimSpace(voterID)
	if !IsAddress(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVoterID, voterID)
	}
	return id, nil
}
