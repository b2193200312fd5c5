// Package domain defines the security events emitted by the auth service.
package domain

import "time"

// Event types.
const (
	EventLogin           = "login"
	EventLoginFailed     = "login_failed"
	EventRefresh         = "refresh"
	EventRefreshRejected = "refresh_rejected"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventPolicyAction    = "policy_action"
	EventAccessRevoked   = "access_revoked"
)

// SecurityEvent is one auth-relevant occurrence. It never carries raw tokens.
type SecurityEvent struct {
	Type     string `json:"eventType"`
	UserID   string `json:"userId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	// Reason is the session rejection sub-reason, if any.
	Reason string `json:"reason,omitempty"`
	// Action is the defensive response taken, if any.
	Action    string            `json:"action,omitempty"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
