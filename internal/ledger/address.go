package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"vote-aggregator/internal/models"
)

// DeriveSubjectAddress returns the account address of a subject. Address ids
// pass through; UUID proposal ids hash to a program derived address.
func DeriveSubjectAddress(subject models.Subject) (string, error) {
	if models.IsAddress(subject.ID) {
		return subject.ID, nil
	}
	if subject.Type != models.SubjectProposal {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidSubjectID, subject.ID)
	}
	id, err := uuid.Parse(subject.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidSubjectID, subject.ID)
	}
	return models.ProposalAddress(id), nil
}

func decodeAddress(addr string) ([]byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != models.AddressLength {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidSubjectID, addr)
	}
	return raw, nil
}
