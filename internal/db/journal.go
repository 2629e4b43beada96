package db

import (
	"context"
	"errors"
	"unicode/utf8"

	"gorm.io/gorm"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/models"
)

// ErrJournalDisabled is returned by reads when no database is configured.
var ErrJournalDisabled = errors.New("decision journal disabled")

// Journal appends evaluation results to the decision_records table.
// A Journal over a nil DB discards writes.
type Journal struct {
	db *gorm.DB
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Enabled() bool {
	return j != nil && j.db != nil
}

func (j *Journal) Record(ctx context.Context, r aggregator.Result) error {
	if !j.Enabled() {
		return nil
	}
	rec := recordFromResult(r)
	return j.db.WithContext(ctx).Create(&rec).Error
}

// Recent lists the newest records, optionally filtered by subject.
func (j *Journal) Recent(ctx context.Context, subject *models.Subject, limit int) ([]models.DecisionRecord, error) {
	if !j.Enabled() {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := j.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if subject != nil {
		q = q.Where("subject_type = ? AND subject_id = ?", string(subject.Type), subject.ID)
	}
	var out []models.DecisionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func recordFromResult(r aggregator.Result) models.DecisionRecord {
	rec := models.DecisionRecord{
		SubjectType: string(r.Subject.Type),
		SubjectID:   r.Subject.ID,
		Disposition: string(r.Disposition),
		Reason:      string(r.Reason),
		TxHash:      r.TxHash,
		Attempts:    r.Attempts,
		Error:       truncate(r.Error, 1024),
	}
	if d := r.Decision; d != nil {
		rec.Outcome = string(d.Outcome)
		rec.ApproveWeight = d.ApproveWeight
		rec.RejectWeight = d.RejectWeight
		rec.TotalVoters = d.TotalVoters
		rec.EvaluatedAt = d.EvaluatedAt
	}
	return rec
}

// truncate caps s at n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
