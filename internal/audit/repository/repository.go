package repository

import (
	"context"

	"sessionguard/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the newest entries first, at most limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
