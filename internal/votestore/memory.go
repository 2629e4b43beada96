package votestore

import (
	"context"
	"sort"
	"sync"

	"vote-aggregator/internal/models"
)

// Memory is an in-process Store. It is only correct for a single replica.
type Memory struct {
	mu      sync.Mutex
	votes   map[string]map[string]models.Vote // subject key -> voter -> vote
	pending map[string]models.Subject
	down    bool
}

func NewMemory() *Memory {
	return &Memory{
		votes:   make(map[string]map[string]models.Vote),
		pending: make(map[string]models.Subject),
	}
}

// SetUnavailable makes every call fail with ErrStoreUnavailable.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *Memory) CastVote(_ context.Context, vote models.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	subject := vote.Subject()
	key := subject.Key()
	byVoter, ok := m.votes[key]
	if !ok {
		byVoter = make(map[string]models.Vote)
		m.votes[key] = byVoter
	}
	byVoter[vote.VoterID] = vote
	m.pending[key] = subject
	return nil
}

func (m *Memory) Votes(_ context.Context, subject models.Subject) ([]models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrStoreUnavailable
	}
	byVoter := m.votes[subject.Key()]
	out := make([]models.Vote, 0, len(byVoter))
	for _, v := range byVoter {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (m *Memory) Tally(ctx context.Context, subject models.Subject) (models.Tally, error) {
	votes, err := m.Votes(ctx, subject)
	if err != nil {
		return models.Tally{}, err
	}
	return models.TallyVotes(votes), nil
}

func (m *Memory) PendingSubjects(_ context.Context) ([]models.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrStoreUnavailable
	}
	out := make([]models.Subject, 0, len(m.pending))
	for _, s := range m.pending {
		out = append(out, s)
	}
	sortSubjects(out)
	return out, nil
}

func (m *Memory) MarkProcessed(_ context.Context, subject models.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	delete(m.votes, subject.Key())
	delete(m.pending, subject.Key())
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	return nil
}

func sortSubjects(s []models.Subject) {
	sort.Slice(s, func(i, j int) bool { return s[i].Key() < s[j].Key() })
}

var _ Store = (*Memory)(nil)
