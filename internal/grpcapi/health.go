// Package grpcapi exposes the standard gRPC health service so orchestrators
// can probe the validator without sending it a code.
package grpcapi

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name for the validation endpoint.
const ServiceName = "gallerygate.v1.CodeValidator"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer registers grpc.health.v1.Health.  Both the overall ("") and the
// named service start NOT_SERVING until SetServing is called.
func NewServer(opts ...grpc.ServerOption) *Server {
	gs := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{grpc: gs, health: hs}
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.grpc.Serve(ln)
}

// Stop marks everything NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
