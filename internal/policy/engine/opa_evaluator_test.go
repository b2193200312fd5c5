package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name string
		in   RefreshFailure
		want Action
	}{
		{"reuse", RefreshFailure{Reason: "reuse_detected", SecurityEvent: true}, ActionLogoutAll},
		{"already rotated", RefreshFailure{Reason: "already_rotated", SecurityEvent: true}, ActionLogoutAll},
		{"not found", RefreshFailure{Reason: "session_not_found"}, ActionNone},
		{"metadata missing", RefreshFailure{Reason: "metadata_missing"}, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.EvaluateRefreshFailure(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("EvaluateRefreshFailure: %v", err)
			}
			if d.Action != tt.want {
				t.Errorf("Action = %q, want %q", d.Action, tt.want)
			}
			if fb := Fallback(tt.in); fb.Action != tt.want {
				t.Errorf("Fallback = %q, want %q", fb.Action, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	policy := `package sessionguard.reuse

default action := "none"

action := "logout_device" if {
	input.reason == "already_rotated"
}

action := "logout_all" if {
	input.reason == "reuse_detected"
}
`
	path := filepath.Join(t.TempDir(), "reuse.rego")
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e, err := NewOPAEvaluatorFromFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile: %v", err)
	}
	d, _ := e.EvaluateRefreshFailure(context.Background(), RefreshFailure{Reason: "already_rotated", SecurityEvent: true})
	if d.Action != ActionLogoutDevice {
		t.Errorf("already_rotated: Action = %q, want logout_device", d.Action)
	}
	d, _ = e.EvaluateRefreshFailure(context.Background(), RefreshFailure{Reason: "reuse_detected", SecurityEvent: true})
	if d.Action != ActionLogoutAll {
		t.Errorf("reuse_detected: Action = %q, want logout_all", d.Action)
	}
}

func TestOPAEvaluator_UnknownActionFallsBack(t *testing.T) {
	policy := `package sessionguard.reuse

action := "shrug"
`
	e, err := NewOPAEvaluator(context.Background(), policy, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, err := e.EvaluateRefreshFailure(context.Background(), RefreshFailure{Reason: "reuse_detected", SecurityEvent: true})
	if err == nil {
		t.Error("want error for unknown action")
	}
	if d.Action != ActionLogoutAll {
		t.Errorf("fallback Action = %q, want logout_all", d.Action)
	}
}

func TestOPAEvaluator_MissingActionFallsBack(t *testing.T) {
	policy := `package sessionguard.reuse

action := "logout_all" if {
	input.reason == "never"
}
`
	e, err := NewOPAEvaluator(context.Background(), policy, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, err := e.EvaluateRefreshFailure(context.Background(), RefreshFailure{Reason: "session_not_found"})
	if err == nil {
		t.Error("want error for undefined action")
	}
	if d.Action != ActionNone {
		t.Errorf("fallback Action = %q, want none", d.Action)
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\naction := {", nil); err == nil {
		t.Error("want compile error")
	}
	if _, err := NewOPAEvaluatorFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Error("want read error")
	}
}
