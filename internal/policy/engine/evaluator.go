package engine

import "context"

// Action is the defensive response to a rejected refresh credential.
type Action string

const (
	ActionNone         Action = "none"
	ActionLogoutDevice Action = "logout_device"
	ActionLogoutAll    Action = "logout_all"
)

// RefreshFailure describes a rejected refresh for policy input.
type RefreshFailure struct {
	// Reason is the session rejection sub-reason (e.g. "reuse_detected").
	Reason   string
	UserID   string
	DeviceID string
	// SecurityEvent is true when the presented credential was already superseded.
	SecurityEvent bool
}

// Decision is the policy outcome for one failure.
type Decision struct {
	Action Action
}

// Evaluator decides how to respond to a rejected refresh credential.
type Evaluator interface {
	EvaluateRefreshFailure(ctx context.Context, f RefreshFailure) (Decision, error)
}
