package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrConflictExhausted is matched by errors.Is when an optimistic transaction kept
	// losing to concurrent writers (or transient store failures) until the attempt cap.
	ErrConflictExhausted = errors.New("kv: optimistic transaction conflict")

	// ErrCommandFailed is matched by errors.Is when a staged command failed for a reason
	// other than an optimistic conflict. Not retried.
	ErrCommandFailed = errors.New("kv: transaction command failed")
)

// ConflictError is returned when every attempt was aborted. Last holds the final
// transient error when the attempts ended on one; nil for plain WATCH conflicts.
type ConflictError struct {
	Attempts int
	Last     error
}

func (e *ConflictError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("kv: transaction failed after %d attempt(s): %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("kv: transaction failed after %d attempt(s) due to concurrent conflicts", e.Attempts)
}

func (e *ConflictError) Unwrap() []error {
	if e.Last != nil {
		return []error{ErrConflictExhausted, e.Last}
	}
	return []error{ErrConflictExhausted}
}

// CommandError wraps the cause of a failed staged command.
type CommandError struct {
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("kv: a command within the transaction failed: %v", e.Err)
}

func (e *CommandError) Unwrap() []error { return []error{ErrCommandFailed, e.Err} }
