package db

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-aggregator/internal/aggregator"
	"vote-aggregator/internal/config"
	"vote-aggregator/internal/models"
)

func TestOpenWithoutDatabase(t *testing.T) {
	db, err := Open(config.Default(), nil)
	require.NoError(t, err)
	assert.Nil(t, db)
	require.NoError(t, AutoMigrate(nil))
}

func TestOpenUnsupportedDialect(t *testing.T) {
	cfg := config.Default()
	cfg.DBDialect = "mysql"
	cfg.DBDsn = "user@/db"
	_, err := Open(cfg, nil)
	require.Error(t, err)
}

func TestDisabledJournal(t *testing.T) {
	j := NewJournal(nil)
	assert.False(t, j.Enabled())
	require.NoError(t, j.Record(context.Background(), aggregator.Result{}))
	_, err := j.Recent(context.Background(), nil, 10)
	require.ErrorIs(t, err, ErrJournalDisabled)
}

func TestRecordFromResult(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	subject := models.Subject{Type: models.SubjectDispute, ID: "abc"}
	rec := recordFromResult(aggregator.Result{
		Subject:     subject,
		Disposition: aggregator.DispositionFailed,
		Reason:      aggregator.ReasonRetriesExhausted,
		Attempts:    5,
		Error:       strings.Repeat("x", 2000),
		Decision: &models.Decision{
			Subject:       subject,
			Outcome:       models.OutcomeRejected,
			ApproveWeight: 1,
			RejectWeight:  4,
			TotalVoters:   5,
			EvaluatedAt:   at,
		},
	})
	assert.Equal(t, "DISPUTE", rec.SubjectType)
	assert.Equal(t, "abc", rec.SubjectID)
	assert.Equal(t, "REJECTED", rec.Outcome)
	assert.Equal(t, "failed", rec.Disposition)
	assert.Equal(t, "retries_exhausted", rec.Reason)
	assert.Equal(t, 5, rec.TotalVoters)
	assert.Equal(t, at, rec.EvaluatedAt)
	assert.Len(t, rec.Error, 1024)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))

	// "é" is two bytes; cutting after its first byte drops it whole.
	assert.Equal(t, "a", truncate("aé", 2))

	long := strings.Repeat("a", 1023) + "€ledger rejected"
	got := truncate(long, 1024)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 1023), got)

	rec := recordFromResult(aggregator.Result{
		Subject:     models.Subject{Type: models.SubjectProposal, ID: "x"},
		Disposition: aggregator.DispositionFailed,
		Error:       long,
	})
	assert.True(t, utf8.ValidString(rec.Error))
}
