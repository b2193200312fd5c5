package domain

import "time"

// AuditLog is one persisted security event for a user.
type AuditLog struct {
	ID        string
	UserID    string
	DeviceID  string
	EventType string
	Reason    string
	Action    string
	IP        string
	Metadata  string // JSON object; empty when the event had none
	CreatedAt time.Time
}
