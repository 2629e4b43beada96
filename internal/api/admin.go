package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/scheduler"
)

type decisionView struct {
	models.Decision
	Disposition aggregator.Disposition `json:"disposition"`
	TxHash      string                 `json:"txHash,omitempty"`
}

type triggerResponse struct {
	Trigger           scheduler.Trigger   `json:"trigger"`
	StartedAt         time.Time           `json:"startedAt"`
	FinishedAt        time.Time           `json:"finishedAt"`
	SubjectsEvaluated []models.Subject    `json:"subjectsEvaluated"`
	Decisions         []decisionView      `json:"decisions"`
	Results           []aggregator.Result `json:"results"`
	Committed         int                 `json:"committed"`
	Pending           int                 `json:"pending"`
	Failed            int                 `json:"failed"`
}

func newTriggerResponse(sum scheduler.Summary) triggerResponse {
	resp := triggerResponse{
		Trigger:           sum.Trigger,
		StartedAt:         sum.StartedAt,
		FinishedAt:        sum.FinishedAt,
		SubjectsEvaluated: sum.SubjectsEvaluated,
		Decisions:         []decisionView{},
		Results:           sum.Results,
		Committed:         sum.Committed(),
		Pending:           sum.Pending(),
		Failed:            sum.Failed(),
	}
	if resp.SubjectsEvaluated == nil {
		resp.SubjectsEvaluated = []models.Subject{}
	}
	if resp.Results == nil {
		resp.Results = []aggregator.Result{}
	}
	for _, r := range sum.Results {
		if r.Decision == nil {
			continue
		}
		resp.Decisions = append(resp.Decisions, decisionView{Decision: *r.Decision, Disposition: r.Disposition, TxHash: r.TxHash})
	}
	return resp
}

// SchedulerView is the scheduler part of stats and control replies.
type SchedulerView struct {
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
}

type SweepView struct {
	Trigger    scheduler.Trigger `json:"trigger"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Evaluated  int               `json:"evaluated"`
	Committed  int               `json:"committed"`
	Pending    int               `json:"pending"`
	Failed     int               `json:"failed"`
	Error      string            `json:"error,omitempty"`
}

type CacheView struct {
	Connected bool `json:"connected"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Cache           CacheView         `json:"cache"`
	Scheduler       *SchedulerView    `json:"scheduler,omitempty"`
	PendingSubjects int               `json:"pendingSubjects"`
	LastSweep       *SweepView        `json:"lastSweep,omitempty"`
	Ledger          *ledger.BlockInfo `json:"ledger,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, codeSchedulerDisabled, "scheduler not configured")
		return
	}
	// A client disconnect must not abort commits already underway.
	sum := s.sched.TriggerNow(context.WithoutCancel(r.Context()))
	if sum.Error != "" {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, sum.Error)
		return
	}
	writeJSON(w, http.StatusOK, newTriggerResponse(sum))
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, codeSchedulerDisabled, "scheduler not configured")
		return
	}
	if err := s.sched.Start(s.baseCtx); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.schedulerState())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, codeSchedulerDisabled, "scheduler not configured")
		return
	}
	s.sched.Stop()
	writeJSON(w, http.StatusOK, s.schedulerState())
}

func (s *Server) schedulerState() *SchedulerView {
	if s.sched == nil {
		return nil
	}
	return &SchedulerView{Running: s.sched.Running(), Interval: s.sched.Interval().String()}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Scheduler: s.schedulerState()}
	if subjects, err := s.store.PendingSubjects(r.Context()); err == nil {
		resp.Cache.Connected = true
		resp.PendingSubjects = len(subjects)
	}
	if s.sched != nil {
		if sum, ok := s.sched.LastSweep(); ok {
			resp.LastSweep = &SweepView{
				Trigger:    sum.Trigger,
				StartedAt:  sum.StartedAt,
				FinishedAt: sum.FinishedAt,
				Evaluated:  len(sum.SubjectsEvaluated),
				Committed:  sum.Committed(),
				Pending:    sum.Pending(),
				Failed:     sum.Failed(),
				Error:      sum.Error,
			}
		}
	}
	if s.blocks != nil {
		if info, ok := s.blocks.Latest(); ok {
			resp.Ledger = &info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vote store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
