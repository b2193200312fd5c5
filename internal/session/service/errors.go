package service

import (
	"errors"
	"fmt"
)

// Reason names why a refresh credential was rejected. Reasons are for logs and
// security telemetry only; callers must collapse them into one generic failure.
type Reason string

const (
	ReasonDeviceNotLinked Reason = "device_not_linked"
	ReasonSessionNotFound Reason = "session_not_found"
	ReasonReuseDetected   Reason = "reuse_detected"
	ReasonMetadataMissing Reason = "metadata_missing"
	ReasonAlreadyRotated  Reason = "already_rotated"
	ReasonMismatch        Reason = "mismatch"
)

var (
	// ErrUnauthorized is matched by every *UnauthorizedError.
	ErrUnauthorized = errors.New("session: unauthorized")

	// ErrInvalidParameters is returned when a required identifier is missing. Caller bug; not retried.
	ErrInvalidParameters = errors.New("session: invalid parameters")
)

// UnauthorizedError carries the sub-reason of a rejected session check.
type UnauthorizedError struct {
	Reason Reason
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("session: unauthorized (%s)", e.Reason)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func unauthorized(r Reason) error { return &UnauthorizedError{Reason: r} }

// ReasonOf returns the sub-reason of err, or "" when err is not an UnauthorizedError.
func ReasonOf(err error) Reason {
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

// IsSecurityEvent reports whether err indicates a presented credential that was
// already superseded. Reuse and a lost rotation race get the same defensive response.
func IsSecurityEvent(err error) bool {
	switch ReasonOf(err) {
	case ReasonReuseDetected, ReasonAlreadyRotated:
		return true
	default:
		return false
	}
}
