package models

import "time"

// DecisionRecord is one row of the optional evaluation journal.
// Rows are append-only; an evaluation that retried after a failure produces
// a second row for the same subject.
type DecisionRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SubjectType   string    `gorm:"size:16;index:ix_subject" json:"subjectType"`
	SubjectID     string    `gorm:"size:64;index:ix_subject" json:"subjectId"`
	Outcome       string    `gorm:"size:32;index" json:"outcome"`
	Disposition   string    `gorm:"size:32;index" json:"disposition"`
	Reason        string    `gorm:"size:64" json:"reason,omitempty"`
	ApproveWeight float64   `json:"approveWeight"`
	RejectWeight  float64   `json:"rejectWeight"`
	TotalVoters   int       `json:"totalVoters"`
	TxHash        string    `gorm:"size:128;index" json:"txHash,omitempty"`
	Attempts      int       `json:"attempts"`
	Error         string    `gorm:"size:1024" json:"error,omitempty"`
	EvaluatedAt   time.Time `gorm:"index" json:"evaluatedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}
