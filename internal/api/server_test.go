package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/lock"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/metrics"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/ratelimiter"
	"vote-aggregator/internal/scheduler"
	"vote-aggregator/internal/stake"
	"vote-aggregator/internal/votestore"
)

func address(b byte) string {
	raw := make([]byte, models.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

// openLedger accepts every transition on subjects it has not finalized yet.
type openLedger struct {
	mu        sync.Mutex
	finalized map[string]ledger.Status
}

func (l *openLedger) FetchState(_ context.Context, s models.Subject) (ledger.SubjectState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.finalized[s.Key()]; ok {
		return ledger.SubjectState{Address: s.ID, Status: st}, nil
	}
	status := ledger.StatusPending
	if s.Type == models.SubjectDispute {
		status = ledger.StatusActive
	}
	return ledger.SubjectState{Address: s.ID, Status: status}, nil
}

func (l *openLedger) SubmitTransition(_ context.Context, s models.Subject, d models.Decision) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized == nil {
		l.finalized = map[string]ledger.Status{}
	}
	l.finalized[s.Key()] = ledger.StatusApproved
	if d.Outcome == models.OutcomeRejected {
		l.finalized[s.Key()] = ledger.StatusRejected
	}
	return ledger.Receipt{TxHash: "ABC123"}, nil
}

func (l *openLedger) DeriveSubjectAddress(s models.Subject) (string, error) {
	return ledger.DeriveSubjectAddress(s)
}

type fakeStake map[string]float64

func (f fakeStake) Resolve(_ context.Context, voter string) (float64, error) {
	w, ok := f[voter]
	if !ok {
		return 0, stake.ErrNoStake
	}
	return w, nil
}

type env struct {
	store  *votestore.Memory
	sched  *scheduler.Scheduler
	server *Server
}

func newEnv(t *testing.T, mutate func(*Options)) *env {
	t.Helper()
	store := votestore.NewMemory()
	cfg := aggregator.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	engine, err := aggregator.New(store, lock.NewMemory(), &openLedger{}, cfg, aggregator.WithLogger(logger.Discard()))
	require.NoError(t, err)
	sched := scheduler.New(engine, store, scheduler.Config{Interval: time.Hour, Concurrency: 2}, logger.Discard(), nil)
	t.Cleanup(sched.Stop)

	opts := Options{
		Store:     store,
		Scheduler: sched,
		Metrics:   metrics.NewRegistry(),
		Logger:    logger.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &env{store: store, sched: sched, server: New(opts)}
}

func (e *env) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func vote(subject models.Subject, voter byte, choice bool) map[string]any {
	return map[string]any{
		"subjectType": string(subject.Type),
		"subjectId":   subject.ID,
		"voterId":     address(voter),
		"choice":      choice,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCastVote(t *testing.T) {
	e := newEnv(t, nil)
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}

	body := vote(subject, 10, true)
	body["weight"] = 2.5
	rec := e.do(t, http.MethodPost, "/api/v1/votes", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "recorded", got["status"])
	assert.Equal(t, address(10), got["voterId"])
	assert.Equal(t, 2.5, got["weight"])

	tally, err := e.store.Tally(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{ApproveWeight: 2.5, TotalVoters: 1}, tally)
}

func TestCastVoteProposalIdentifierForms(t *testing.T) {
	e := newEnv(t, nil)
	const proposalID = "5b0d8f2e-3c4a-4e1b-9f6d-2a7c8e9b1d30"
	byUUID := models.Subject{Type: models.SubjectProposal, ID: proposalID}
	byAddress := models.Subject{Type: models.SubjectProposal, ID: models.ProposalAddress(uuid.MustParse(proposalID))}

	for _, body := range []map[string]any{
		vote(byUUID, 10, true),
		vote(byAddress, 10, false),
		vote(byUUID, 11, true),
	} {
		rec := e.do(t, http.MethodPost, "/api/v1/votes", body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	pending, err := e.store.PendingSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{byAddress}, pending)

	tally, err := e.store.Tally(context.Background(), byAddress)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{ApproveWeight: 1, RejectWeight: 1, TotalVoters: 2}, tally)

	rec := e.do(t, http.MethodGet, "/api/v1/subjects/proposal/"+proposalID+"/tally", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[SubjectTally](t, rec).TotalVoters)
}

func TestCastVoteValidation(t *testing.T) {
	e := newEnv(t, nil)
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}

	badType := vote(subject, 10, true)
	badType["subjectType"] = "ELECTION"
	badID := vote(subject, 10, true)
	badID["subjectId"] = "not-an-address"
	badVoter := vote(subject, 10, true)
	badVoter["voterId"] = "0xabc"
	zeroWeight := vote(subject, 10, true)
	zeroWeight["weight"] = 0
	negWeight := vote(subject, 10, true)
	negWeight["weight"] = -1
	noChoice := vote(subject, 10, true)
	delete(noChoice, "choice")

	for name, body := range map[string]any{
		"bad type":        badType,
		"bad subject id":  badID,
		"bad voter":       badVoter,
		"zero weight":     zeroWeight,
		"negative weight": negWeight,
		"missing choice":  noChoice,
	} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/votes", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, codeInvalidRequest, decode[ErrorResponse](t, rec).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/votes", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCastVoteStoreUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.store.SetUnavailable(true)
	subject := models.Subject{Type: models.SubjectDispute, ID: address(2)}

	rec := e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 10, false))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeStoreUnavailable, decode[ErrorResponse](t, rec).Code)

	rec = e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCastVoteRateLimited(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.Limiter = ratelimiter.New(0.001, 2, time.Minute) })
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 10, true))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 10, true))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 11, true))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCastVoteStakeWeighted(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.Stake = fakeStake{address(10): 7} })
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}

	body := vote(subject, 10, true)
	body["weight"] = 100
	rec := e.do(t, http.MethodPost, "/api/v1/votes", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 7.0, decode[map[string]any](t, rec)["weight"])

	rec = e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 11, true))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeNoStake, decode[ErrorResponse](t, rec).Code)
}

func TestTallyAndPending(t *testing.T) {
	e := newEnv(t, nil)
	subject := models.Subject{Type: models.SubjectProposal, ID: address(1)}
	e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 10, true))
	e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 11, false))
	e.do(t, http.MethodPost, "/api/v1/votes", vote(subject, 10, false))

	rec := e.do(t, http.MethodGet, "/api/v1/subjects/proposal/"+subject.ID+"/tally", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tally := decode[SubjectTally](t, rec)
	assert.Equal(t, subject, tally.Subject)
	assert.Equal(t, 2.0, tally.RejectWeight)
	assert.Equal(t, 2, tally.TotalVoters)
	assert.Zero(t, tally.ApprovalRatio)

	rec = e.do(t, http.MethodGet, "/api/v1/subjects/PROPOSAL/bogus/tally", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/subjects/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[PendingResponse](t, rec)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, subject, pending.Subjects[0].Subject)
}

func TestTriggerCommitsAndReports(t *testing.T) {
	e := newEnv(t, nil)
	ready := models.Subject{Type: models.SubjectProposal, ID: address(1)}
	short := models.Subject{Type: models.SubjectDispute, ID: address(2)}
	for v := byte(10); v < 13; v++ {
		e.do(t, http.MethodPost, "/api/v1/votes", vote(ready, v, true))
	}
	e.do(t, http.MethodPost, "/api/v1/votes", vote(short, 10, true))

	rec := e.do(t, http.MethodPost, "/api/v1/aggregation/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[triggerResponse](t, rec)
	assert.Equal(t, scheduler.TriggerManual, resp.Trigger)
	assert.Len(t, resp.SubjectsEvaluated, 2)
	assert.Equal(t, 1, resp.Committed)
	assert.Equal(t, 1, resp.Pending)
	require.Len(t, resp.Decisions, 2)

	pending, err := e.store.PendingSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{short}, pending)

	rec = e.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.True(t, stats.Cache.Connected)
	assert.Equal(t, 1, stats.PendingSubjects)
	require.NotNil(t, stats.LastSweep)
	assert.Equal(t, 1, stats.LastSweep.Committed)
	require.NotNil(t, stats.Scheduler)
	assert.False(t, stats.Scheduler.Running)
}

func TestSchedulerControl(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SchedulerView](t, rec).Running)
	assert.True(t, e.sched.Running())

	rec = e.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[SchedulerView](t, rec)
	assert.False(t, view.Running)
	assert.Equal(t, "1h0m0s", view.Interval)
}

func TestAdminToken(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.AdminToken = "s3cret" })

	rec := e.do(t, http.MethodPost, "/api/v1/aggregation/trigger", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/scheduler/start", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/aggregation/trigger", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticJournal struct {
	records []models.DecisionRecord
	err     error
}

func (j staticJournal) Recent(_ context.Context, _ *models.Subject, _ int) ([]models.DecisionRecord, error) {
	return j.records, j.err
}

func TestDecisions(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/v1/decisions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e = newEnv(t, func(o *Options) {
		o.Journal = staticJournal{records: []models.DecisionRecord{{ID: 1, SubjectType: "PROPOSAL", Outcome: "APPROVED"}}}
	})
	rec = e.do(t, http.MethodGet, "/api/v1/decisions?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"APPROVED"`)

	rec = e.do(t, http.MethodGet, "/api/v1/decisions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e = newEnv(t, func(o *Options) { o.Journal = staticJournal{err: errors.New("db down")} })
	rec = e.do(t, http.MethodGet, "/api/v1/decisions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	e.do(t, http.MethodPost, "/api/v1/votes", vote(models.Subject{Type: models.SubjectProposal, ID: address(1)}, 10, true))
	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `voteagg_votes_cast_total{subject_type="PROPOSAL"} 1`)
	assert.Contains(t, rec.Body.String(), `route="POST /api/v1/votes"`)
}
