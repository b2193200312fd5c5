// Package handler reports liveness and readiness over gRPC (grpc.health.v1) and HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "sessionguard.v1.AuthService"

const checkTimeout = 2 * time.Second

// Pinger is satisfied by the key-value store and database adapters.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is satisfied by the reuse policy evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server runs the readiness checks and publishes the result to a grpc-go health server.
type Server struct {
	checks map[string]Pinger
	grpc   *health.Server
}

// NewServer returns a Server. store is required; db and policy may be nil and are then skipped.
func NewServer(store Pinger, db Pinger, policy PolicyChecker) *Server {
	checks := map[string]Pinger{"kv": store}
	if db != nil {
		checks["postgres"] = db
	}
	if policy != nil {
		checks["policy"] = PingFunc(policy.HealthCheck)
	}
	return &Server{checks: checks, grpc: health.NewServer()}
}

// GRPC returns the grpc.health.v1 implementation to register on a gRPC server.
func (s *Server) GRPC() healthpb.HealthServer { return s.grpc }

// Check runs every readiness check and returns the failures by name; empty means ready.
func (s *Server) Check(ctx context.Context) map[string]string {
	failed := map[string]string{}
	for name, p := range s.checks {
		if p == nil {
			failed[name] = "not configured"
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Ping(cctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// Refresh runs the checks once and updates the gRPC serving status.
func (s *Server) Refresh(ctx context.Context) bool {
	failed := s.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if len(failed) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		slog.WarnContext(ctx, "health: not ready", "failed", failed)
	}
	s.grpc.SetServingStatus("", status)
	s.grpc.SetServingStatus(ServiceName, status)
	return len(failed) == 0
}

// Run refreshes the gRPC status every interval until ctx is done, then marks the
// server NOT_SERVING so load balancers drain it.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.grpc.Shutdown()
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Liveness always answers 200 while the process serves HTTP.
func (s *Server) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Readiness answers 200 when every check passes and 503 with the failures otherwise.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	failed := s.Check(r.Context())
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
