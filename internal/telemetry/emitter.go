package telemetry

import (
	"context"
	"errors"

	"sessionguard/backend/internal/telemetry/domain"
)

// EventEmitter emits security events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

// Emit calls each emitter in order.
func (m Multi) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
