package tui

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-aggregator/internal/api"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/votestore"
)

type stubAPI struct {
	stats    api.StatsResponse
	pending  api.PendingResponse
	err      error
	triggers int
	running  bool
}

func (s *stubAPI) Stats(context.Context) (api.StatsResponse, error) { return s.stats, s.err }

func (s *stubAPI) Pending(context.Context) (api.PendingResponse, error) { return s.pending, s.err }

func (s *stubAPI) Trigger(context.Context) (int, error) {
	s.triggers++
	return 1, s.err
}

func (s *stubAPI) SetScheduler(_ context.Context, run bool) (api.SchedulerView, error) {
	s.running = run
	return api.SchedulerView{Running: run, Interval: "30s"}, s.err
}

func address(b byte) string {
	raw := make([]byte, models.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func TestViewRendersSnapshot(t *testing.T) {
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}
	stub := &stubAPI{
		stats: api.StatsResponse{
			Cache:           api.CacheView{Connected: true},
			Scheduler:       &api.SchedulerView{Running: true, Interval: "30s"},
			PendingSubjects: 1,
			LastSweep:       &api.SweepView{Trigger: "timer", FinishedAt: time.Now(), Evaluated: 3, Committed: 2},
		},
		pending: api.PendingResponse{Count: 1, Subjects: []api.SubjectTally{{
			Subject:       subject,
			Tally:         models.Tally{ApproveWeight: 3, RejectWeight: 1, TotalVoters: 4},
			ApprovalRatio: 0.75,
		}}},
	}
	m := sized(NewModel(stub, time.Second))
	assert.Equal(t, "Loading...", NewModel(stub, time.Second).View())

	msg := m.poll()()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "pending subjects: 1")
	assert.Contains(t, view, "evaluated=3 committed=2")
	assert.Contains(t, view, "PROPOSAL")
	assert.Contains(t, view, "75.0%")
	assert.Contains(t, view, subject.ID[:10])
	for _, line := range strings.Split(view, "\n") {
		assert.LessOrEqual(t, len([]rune(stripStyle(line))), 120)
	}
}

func TestPollErrorKeepsLastSnapshot(t *testing.T) {
	stub := &stubAPI{stats: api.StatsResponse{PendingSubjects: 4}}
	m := sized(NewModel(stub, time.Second))
	next, _ := m.Update(m.poll()())
	m = next.(Model)

	stub.err = errors.New("connection refused")
	next, _ = m.Update(m.poll()())
	m = next.(Model)
	assert.Equal(t, 4, m.stats.PendingSubjects)
	assert.Contains(t, m.View(), "poll failed")
}

func TestKeys(t *testing.T) {
	stub := &stubAPI{}
	m := sized(NewModel(stub, time.Second))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	require.NotNil(t, cmd)
	notice := cmd().(NoticeMsg)
	assert.Equal(t, 1, stub.triggers)
	assert.Contains(t, notice.Text, "committed 1")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	require.NotNil(t, cmd)
	notice = cmd().(NoticeMsg)
	assert.True(t, stub.running)
	assert.Equal(t, "scheduler running", notice.Text)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestClientAgainstServer(t *testing.T) {
	store := votestore.NewMemory()
	subject := models.Subject{Type: models.SubjectDispute, ID: address(2)}
	require.NoError(t, store.CastVote(context.Background(), models.Vote{
		SubjectType: subject.Type, SubjectID: subject.ID, VoterID: address(9), Choice: true, Weight: 1, CastAt: time.Now(),
	}))
	srv := httptest.NewServer(api.New(api.Options{Store: store, Logger: logger.Discard(), AdminToken: "tok"}).Handler())
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Cache.Connected)
	assert.Equal(t, 1, stats.PendingSubjects)

	pending, err := c.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending.Subjects, 1)
	assert.Equal(t, subject, pending.Subjects[0].Subject)

	_, err = c.Trigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler_disabled")
}
