package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"sessionguard/backend/internal/telemetry"
	"sessionguard/backend/internal/telemetry/domain"
)

const instrumentationName = "sessionguard.security"

// RecordEmitter is the subset of otellog.Logger the event emitter needs.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger.
func NewEventEmitterWithLogger(logger RecordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

type otelEmitter struct {
	logger RecordEmitter
}

// Emit converts the event to an OTel log record. Rejections and policy actions are
// emitted at WARN, everything else at INFO.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetEventName(event.Type)
	rec.SetBody(otellog.StringValue(event.Type))
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetSeverityText("INFO")
	if event.Reason != "" || event.Action != "" {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}

	attrs := []otellog.KeyValue{otellog.String("event_type", event.Type)}
	for _, kv := range []struct{ k, v string }{
		{"user_id", event.UserID},
		{"device_id", event.DeviceID},
		{"reason", event.Reason},
		{"action", event.Action},
		{"source", event.Source},
	} {
		if kv.v != "" {
			attrs = append(attrs, otellog.String(kv.k, kv.v))
		}
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, otellog.String("meta."+k, v))
	}
	rec.AddAttributes(attrs...)
	e.logger.Emit(ctx, rec)
	return nil
}
