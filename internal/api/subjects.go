package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vote-aggregator/internal/db"
	"vote-aggregator/internal/models"
)

// SubjectTally is a subject with its live tally.
type SubjectTally struct {
	models.Subject
	models.Tally
	ApprovalRatio float64 `json:"approvalRatio"`
}

func newSubjectTally(s models.Subject, t models.Tally) SubjectTally {
	return SubjectTally{Subject: s, Tally: t, ApprovalRatio: t.ApprovalRatio()}
}

type PendingResponse struct {
	Count    int            `json:"count"`
	Subjects []SubjectTally `json:"subjects"`
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	subject, err := models.NewSubject(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	tally, err := s.store.Tally(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vote store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, newSubjectTally(subject, tally))
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.store.PendingSubjects(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vote store unavailable")
		return
	}
	resp := PendingResponse{Count: len(subjects), Subjects: make([]SubjectTally, 0, len(subjects))}
	for _, subject := range subjects {
		tally, err := s.store.Tally(r.Context(), subject)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vote store unavailable")
			return
		}
		resp.Subjects = append(resp.Subjects, newSubjectTally(subject, tally))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, codeJournalDisabled, "decision journal disabled")
		return
	}
	q := r.URL.Query()
	var filter *models.Subject
	if q.Get("subjectType") != "" || q.Get("subjectId") != "" {
		subject, err := models.NewSubject(q.Get("subjectType"), q.Get("subjectId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		filter = &subject
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.journal.Recent(r.Context(), filter, limit)
	switch {
	case errors.Is(err, db.ErrJournalDisabled):
		writeError(w, http.StatusNotFound, codeJournalDisabled, "decision journal disabled")
		return
	case err != nil:
		s.log.WithError(err).Warn("read decision journal")
		writeError(w, http.StatusServiceUnavailable, codeInternal, "decision journal unavailable")
		return
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}
