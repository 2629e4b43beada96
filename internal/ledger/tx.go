package ledger

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/google/uuid"

	"vote-aggregator/internal/models"
)

// Action is the program instruction applied to a subject.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionResolve Action = "resolve"
	ActionDismiss Action = "dismiss"
)

var ErrNoTransition = errors.New("outcome has no ledger transition")

// ActionFor maps a decided outcome onto the subject type's instruction.
func ActionFor(t models.SubjectType, outcome models.Outcome) (Action, error) {
	switch {
	case t == models.SubjectProposal && outcome == models.OutcomeApproved:
		return ActionApprove, nil
	case t == models.SubjectProposal && outcome == models.OutcomeRejected:
		return ActionReject, nil
	case t == models.SubjectDispute && outcome == models.OutcomeApproved:
		return ActionResolve, nil
	case t == models.SubjectDispute && outcome == models.OutcomeRejected:
		return ActionDismiss, nil
	}
	return "", fmt.Errorf("%w: %s %s", ErrNoTransition, t, outcome)
}

func (a Action) resultStatus() Status {
	switch a {
	case ActionApprove:
		return StatusApproved
	case ActionReject:
		return StatusRejected
	case ActionResolve:
		return StatusResolved
	case ActionDismiss:
		return StatusDismissed
	}
	return ""
}

// Transition is the signed payload of a state transition transaction.
// Field order is fixed so the JSON encoding is canonical.
type Transition struct {
	Action        Action  `json:"action"`
	SubjectType   string  `json:"subject_type"`
	SubjectID     string  `json:"subject_id"`
	Address       string  `json:"address"`
	ApproveWeight float64 `json:"approve_weight"`
	RejectWeight  float64 `json:"reject_weight"`
	TotalVoters   int     `json:"total_voters"`
	Nonce         string  `json:"nonce"`
	Signer        string  `json:"signer"`
}

// SignedTx is the wire form broadcast to the node.
type SignedTx struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Signer holds the authority key used to sign transitions.
type Signer struct {
	key crypto.PrivKey
}

// NewSigner derives a deterministic ed25519 key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signer secret is empty")
	}
	return &Signer{key: ed25519.GenPrivKeyFromSecret([]byte(secret))}, nil
}

func (s *Signer) PubKey() crypto.PubKey { return s.key.PubKey() }

// Address is the hex form of the signer's public key address.
func (s *Signer) Address() string { return s.key.PubKey().Address().String() }

// Sign encodes the transition with a fresh nonce and returns the tx bytes.
func (s *Signer) Sign(t Transition) ([]byte, error) {
	if t.Nonce == "" {
		t.Nonce = uuid.NewString()
	}
	t.Signer = base64.StdEncoding.EncodeToString(s.key.PubKey().Bytes())
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transition: %w", err)
	}
	sig, err := s.key.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign transition: %w", err)
	}
	tx, err := json.Marshal(SignedTx{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return tx, nil
}

// VerifyTx checks a signed tx against the public key embedded in its payload.
func VerifyTx(tx []byte) (Transition, error) {
	var stx SignedTx
	if err := json.Unmarshal(tx, &stx); err != nil {
		return Transition{}, fmt.Errorf("decode tx: %w", err)
	}
	var t Transition
	if err := json.Unmarshal(stx.Payload, &t); err != nil {
		return Transition{}, fmt.Errorf("decode transition: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(t.Signer)
	if err != nil || len(pub) != ed25519.PubKeySize {
		return Transition{}, errors.New("malformed signer key")
	}
	sig, err := base64.StdEncoding.DecodeString(stx.Signature)
	if err != nil {
		return Transition{}, errors.New("malformed signature")
	}
	if !ed25519.PubKey(pub).VerifySignature(stx.Payload, sig) {
		return Transition{}, errors.New("signature mismatch")
	}
	return t, nil
}
