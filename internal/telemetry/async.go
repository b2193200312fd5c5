package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sessionguard/backend/internal/telemetry/domain"
)

// emitTimeout bounds a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration bounds Drain at shutdown. Must be >= emitTimeout so an emit
// started just before shutdown can still finish.
const ShutdownDrainDuration = emitTimeout

// inflight counts EmitAsync goroutines that have not returned yet.
var inflight sync.WaitGroup

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil. The goroutine detaches from ctx cancellation but keeps
// its values (trace context) so request cancellation does not abort the emit.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *domain.SecurityEvent) {
	if emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		emitCtx, cancel := context.WithTimeout(base, emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			slog.WarnContext(emitCtx, "telemetry: async emit failed", "event_type", event.Type, "error", err)
		}
	}()
}

// Drain waits until every pending EmitAsync call has returned or timeout elapses, and
// reports whether all of them finished. Call it after the servers stop accepting
// requests and before closing the emitters' sinks.
func Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
