package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/models"
	"vote-aggregator/internal/stake"
	"vote-aggregator/internal/votestore"
)

type castVoteRequest struct {
	SubjectType string   `json:"subjectType"`
	SubjectID   string   `json:"subjectId"`
	VoterID     string   `json:"voterId"`
	Choice      *bool    `json:"choice"`
	Weight      *float64 `json:"weight,omitempty"`
}

type castVoteResponse struct {
	Status string `json:"status"`
	models.Vote
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	vote, err := req.toVote()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if !s.limiter.Allow(vote.VoterID, s.now()) {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many votes from this voter")
		return
	}

	if s.stake != nil {
		weight, err := s.stake.Resolve(r.Context(), vote.VoterID)
		switch {
		case errors.Is(err, stake.ErrNoStake):
			writeError(w, http.StatusBadRequest, codeNoStake, "voter has no stake")
			return
		case err != nil:
			s.log.WithError(err).WithField("voter", vote.VoterID).Warn("stake lookup")
			writeError(w, http.StatusServiceUnavailable, codeLedgerUnavailable, "stake lookup failed")
			return
		}
		vote.Weight = weight
	}

	vote.CastAt = s.now().UTC()
	if err := s.store.CastVote(r.Context(), vote); err != nil {
		if errors.Is(err, votestore.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "vote store unavailable")
			return
		}
		s.log.WithError(err).Error("cast vote")
		writeError(w, http.StatusInternalServerError, codeInternal, "could not record vote")
		return
	}

	s.metrics.IncVote(string(vote.SubjectType))
	s.log.WithFields(logrus.Fields{
		"subject": vote.Subject().Key(),
		"voter":   vote.VoterID,
		"choice":  vote.Choice,
		"weight":  vote.Weight,
	}).Debug("vote recorded")
	writeJSON(w, http.StatusAccepted, castVoteResponse{Status: "recorded", Vote: vote})
}

func (req castVoteRequest) toVote() (models.Vote, error) {
	subject, err := models.NewSubject(req.SubjectType, req.SubjectID)
	if err != nil {
		return models.Vote{}, err
	}
	voter, err := models.NormalizeVoterID(req.VoterID)
	if err != nil {
		return models.Vote{}, err
	}
	if req.Choice == nil {
		return models.Vote{}, errors.New("choice is required")
	}
	weight := models.DefaultWeight
	if req.Weight != nil {
		if *req.Weight <= 0 {
			return models.Vote{}, models.ErrInvalidWeight
		}
		if weight, err = models.ValidateWeight(*req.Weight); err != nil {
			return models.Vote{}, err
		}
	}
	return models.Vote{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		VoterID:     voter,
		Choice:      *req.Choice,
		Weight:      weight,
	}, nil
}
