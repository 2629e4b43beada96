package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies ledger failures for the engine's retry policy.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindCongestion
	KindStaleState
	KindRejected
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindCongestion:
		return "congestion"
	case KindStaleState:
		return "stale_state"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries the kind plus the ledger's response code and log, if any.
type Error struct {
	Kind Kind
	Code uint32
	Log  string
	Err  error
}

func (e *Error) Error() string {
	msg := "ledger " + e.Kind.String()
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Log != "" {
		msg += ": " + e.Log
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of code and log.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Code == 0 && t.Log == "" && t.Err == nil
}

var (
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrCongestion = &Error{Kind: KindCongestion}
	ErrStaleState = &Error{Kind: KindStaleState}
	ErrRejected   = &Error{Kind: KindRejected}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

// KindOf returns the classification of err, treating unclassified errors
// as network failures.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindNetwork
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindNetwork, KindCongestion:
		return true
	}
	return false
}
