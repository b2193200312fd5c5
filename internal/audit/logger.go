// Package audit records security events: a structured log line, a persisted audit
// row, and a best-effort fan-out to the telemetry sinks.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sessionguard/backend/internal/audit/domain"
	auditrepo "sessionguard/backend/internal/audit/repository"
	"sessionguard/backend/internal/telemetry"
	teldomain "sessionguard/backend/internal/telemetry/domain"
)

// DefaultSource is recorded when an event does not name its origin.
const DefaultSource = "http"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger records one security event. LogEvent is best-effort: failures are
// logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, event *teldomain.SecurityEvent)
}

// Logger implements AuditLogger. repo and emitter are optional.
type Logger struct {
	repo        auditrepo.Repository
	emitter     telemetry.EventEmitter
	ipExtractor IPExtractor
	log         *slog.Logger
}

// NewLogger returns a Logger. ipExtractor may be nil; then IP is recorded as "unknown".
// log may be nil; then slog.Default is used.
func NewLogger(repo auditrepo.Repository, emitter telemetry.EventEmitter, ipExtractor IPExtractor, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor, log: log}
}

// LogEvent logs the event at WARN when it carries a rejection reason or a defensive
// action and at INFO otherwise, persists it, and emits it asynchronously.
func (l *Logger) LogEvent(ctx context.Context, event *teldomain.SecurityEvent) {
	if l == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = DefaultSource
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}

	level := slog.LevelInfo
	if event.Reason != "" || event.Action != "" {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "security event",
		"event_type", event.Type,
		"user_id", event.UserID,
		"device_id", event.DeviceID,
		"reason", event.Reason,
		"action", event.Action,
		"ip", ip,
	)

	if l.repo != nil {
		entry := &domain.AuditLog{
			ID:        uuid.New().String(),
			UserID:    event.UserID,
			DeviceID:  event.DeviceID,
			EventType: event.Type,
			Reason:    event.Reason,
			Action:    event.Action,
			IP:        ip,
			Metadata:  encodeMetadata(event.Metadata),
			CreatedAt: event.CreatedAt,
		}
		if err := l.repo.Create(ctx, entry); err != nil {
			l.log.WarnContext(ctx, "audit: failed to persist event", "event_type", event.Type, "error", err)
		}
	}

	telemetry.EmitAsync(ctx, l.emitter, event)
}

// Recent returns the newest audit entries of userID. Without a repository it returns nil.
func (l *Logger) Recent(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if l == nil || l.repo == nil {
		return nil, nil
	}
	return l.repo.ListByUser(ctx, userID, limit)
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
