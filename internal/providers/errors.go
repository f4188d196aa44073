package providers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed provider call. The completion enforcer
// treats all three kinds as retryable; the distinction is kept for logging
// and metrics.
type ErrorKind string

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRejected means the provider answered with a non-success status.
	KindRejected ErrorKind = "rejected"
	// KindMalformed means the provider answered 2xx but the body carried no
	// extractable content. A missing answer is never an empty-but-valid one.
	KindMalformed ErrorKind = "malformed"
)

// CallError is the typed failure returned by every adapter.
type CallError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s call %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s call %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// KindOf returns the error kind of err, or "" if err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
