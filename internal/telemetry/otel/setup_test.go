package otel

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, endpoint, "sessionguard-test", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil provider", endpoint)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
	}
}

func TestNewProviders_InvalidURL(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProviders(ctx, tc.endpoint, "sessionguard-test", false)
			if err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTracerProvider := otel.GetTracerProvider()
	providers.SetGlobal()
	if otel.GetTracerProvider() == oldTracerProvider {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetTextMapPropagator() == nil {
		t.Error("propagator should be set")
	}
}

func TestSlogHandler(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	logger := slog.New(providers.SlogHandler("sessionguard", nil))
	logger.Info("test message", "k", "v")
}

func TestSlogHandler_RespectsLevel(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	ctx := context.Background()
	tests := []struct {
		name  string
		level slog.Level
		at    slog.Level
		want  bool
	}{
		{"debug below info", slog.LevelInfo, slog.LevelDebug, false},
		{"info at info", slog.LevelInfo, slog.LevelInfo, true},
		{"info below warn", slog.LevelWarn, slog.LevelInfo, false},
		{"error above warn", slog.LevelWarn, slog.LevelError, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := providers.SlogHandler("sessionguard", tc.level)
			if got := h.Enabled(ctx, tc.at); got != tc.want {
				t.Errorf("Enabled(%v) at level %v = %v, want %v", tc.at, tc.level, got, tc.want)
			}
			derived := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g")
			if got := derived.Enabled(ctx, tc.at); got != tc.want {
				t.Errorf("derived Enabled(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestSlogHandler_DynamicLevel(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	var lv slog.LevelVar
	lv.Set(slog.LevelError)
	h := providers.SlogHandler("sessionguard", &lv)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at error level")
	}
	lv.Set(slog.LevelDebug)
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be enabled after lowering the level")
	}
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint     string
		force        bool
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://otel:4317/v1", false, "otel:4317", true},
		{"https://otel.example.com:4317", false, "otel.example.com:4317", false},
		{"https://otel.example.com:4317", true, "otel.example.com:4317", true},
	}
	for _, tc := range tests {
		c, err := parseCollector(tc.endpoint, tc.force)
		if err != nil {
			t.Fatalf("parseCollector(%q): %v", tc.endpoint, err)
		}
		if c.target != tc.wantTarget || c.insecure != tc.wantInsecure {
			t.Errorf("parseCollector(%q, %v) = %+v, want target %q insecure %v",
				tc.endpoint, tc.force, c, tc.wantTarget, tc.wantInsecure)
		}
	}
}
