package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/lock"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/votestore"
)

// fakeLedger keeps subject states in memory. Successful submissions move
// the subject to the status its outcome produces.
type fakeLedger struct {
	mu         sync.Mutex
	states     map[string]ledger.SubjectState
	fetchErr   error
	submitErrs []error
	alwaysErr  error
	onSubmit   func(subject models.Subject)
	hang       bool
	submits    int

	// pendingBlock leaves the state untouched on submit, as when a tx has
	// passed CheckTx but its block is not committed yet.
	pendingBlock bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{states: map[string]ledger.SubjectState{}}
}

func (f *fakeLedger) setStatus(s models.Subject, status ledger.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[s.Key()] = ledger.SubjectState{Address: s.ID, Status: status, Height: 1}
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeLedger) FetchState(_ context.Context, s models.Subject) (ledger.SubjectState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return ledger.SubjectState{}, f.fetchErr
	}
	st, ok := f.states[s.Key()]
	if !ok {
		return ledger.SubjectState{}, &ledger.Error{Kind: ledger.KindNotFound}
	}
	return st, nil
}

func (f *fakeLedger) SubmitTransition(ctx context.Context, s models.Subject, d models.Decision) (ledger.Receipt, error) {
	f.mu.Lock()
	f.submits++
	n := f.submits
	hook := f.onSubmit
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		return ledger.Receipt{}, ctx.Err()
	}
	var err error
	switch {
	case f.alwaysErr != nil:
		err = f.alwaysErr
	case len(f.submitErrs) > 0:
		err = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	if err != nil {
		return ledger.Receipt{}, err
	}
	f.mu.Lock()
	deferred := f.pendingBlock
	f.mu.Unlock()
	if !deferred {
		f.setStatus(s, terminalStatus(s.Type, d.Outcome))
	}
	return ledger.Receipt{TxHash: fmt.Sprintf("TX%d", n)}, nil
}

func (f *fakeLedger) DeriveSubjectAddress(s models.Subject) (string, error) {
	return ledger.DeriveSubjectAddress(s)
}

func terminalStatus(t models.SubjectType, o models.Outcome) ledger.Status {
	switch {
	case t == models.SubjectProposal && o == models.OutcomeApproved:
		return ledger.StatusApproved
	case t == models.SubjectProposal:
		return ledger.StatusRejected
	case o == models.OutcomeApproved:
		return ledger.StatusResolved
	default:
		return ledger.StatusDismissed
	}
}

type memJournal struct {
	mu      sync.Mutex
	results []Result
}

func (j *memJournal) Record(_ context.Context, r Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	return nil
}

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.results)
}

type harness struct {
	store   *votestore.Memory
	locker  *lock.Memory
	ledger  *fakeLedger
	journal *memJournal
	engine  *Engine
}

func testConfig() Config {
	return Config{
		Policy:         Policy{MinVotesRequired: 3, ProposalThreshold: 0.6, DisputeThreshold: 0.5},
		LockTTL:        time.Minute,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:   votestore.NewMemory(),
		locker:  lock.NewMemory(),
		ledger:  newFakeLedger(),
		journal: &memJournal{},
	}
	e, err := New(h.store, h.locker, h.ledger, cfg, WithLogger(logger.Discard()), WithJournal(h.journal))
	require.NoError(t, err)
	h.engine = e
	return h
}

func address(b byte) string {
	raw := make([]byte, models.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

func proposal(b byte) models.Subject {
	return models.Subject{Type: models.SubjectProposal, ID: address(b)}
}

// castVotes records approvals then rejections with distinct voters.
func (h *harness) castVotes(t *testing.T, s models.Subject, approve, reject int) {
	t.Helper()
	voter := byte(100)
	for i := 0; i < approve+reject; i++ {
		voter++
		require.NoError(t, h.store.CastVote(context.Background(), models.Vote{
			SubjectType: s.Type,
			SubjectID:   s.ID,
			VoterID:     address(voter),
			Choice:      i < approve,
			Weight:      1,
			CastAt:      time.Now(),
		}))
	}
}

func (h *harness) pending(t *testing.T) []models.Subject {
	t.Helper()
	subjects, err := h.store.PendingSubjects(context.Background())
	require.NoError(t, err)
	return subjects
}
