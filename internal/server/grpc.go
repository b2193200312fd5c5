package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry. It carries the
// standard health service for load balancers and orchestrators.
func NewGRPCServer(health healthpb.HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the gRPC services with s. A nil health server registers nothing.
func RegisterServices(s grpc.ServiceRegistrar, health healthpb.HealthServer) {
	if health != nil {
		healthpb.RegisterHealthServer(s, health)
	}
}
