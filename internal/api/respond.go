package api

import (
	"encoding/json"
	"net/http"
)

const (
	codeInvalidRequest    = "invalid_request"
	codeRateLimited       = "rate_limited"
	codeNoStake           = "no_stake"
	codeStoreUnavailable  = "store_unavailable"
	codeLedgerUnavailable = "ledger_unavailable"
	codeSchedulerDisabled = "scheduler_disabled"
	codeJournalDisabled   = "journal_disabled"
	codeUnauthorized      = "unauthorized"
	codeInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
