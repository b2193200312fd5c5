package repository

import (
	"context"
	"database/sql"

	"sessionguard/backend/internal/audit/domain"
)

const (
	insertAuditLog = `INSERT INTO audit_logs (id, user_id, device_id, event_type, reason, action, ip, metadata, created_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, '')::jsonb, $9)`

	listAuditLogsByUser = `SELECT id, COALESCE(user_id, ''), COALESCE(device_id, ''), event_type,
COALESCE(reason, ''), COALESCE(action, ''), ip, COALESCE(metadata::text, ''), created_at
FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
)

// PostgresRepository stores audit logs in the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, a.UserID, a.DeviceID, a.EventType, a.Reason, a.Action, a.IP, a.Metadata, a.CreatedAt)
	return err
}

// ListByUser returns up to limit audit logs for userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsByUser, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.DeviceID, &a.EventType, &a.Reason, &a.Action, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
