package api

import (
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MeshService is the service name reported alongside the overall status.
const MeshService = "tenetmesh.Mesh"

// HealthServer serves the standard gRPC health protocol for the node.
type HealthServer struct {
	logger     logr.Logger
	health     *health.Server
	grpcServer *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// NewHealthServer creates a health server reporting NOT_SERVING until
// SetServing(true).
func NewHealthServer(logger logr.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(MeshService, healthpb.HealthCheckResponse_NOT_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &HealthServer{
		logger:     logger,
		health:     hs,
		grpcServer: grpcServer,
	}
}

// StartAsync starts the gRPC server asynchronously and returns immediately.
func (s *HealthServer) StartAsync(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("health server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.running = true

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error(err, "Health server stopped")
		}
	}()
	s.logger.Info("Health server started", "address", lis.Addr().String())
	return nil
}

// SetServing updates the overall and mesh service status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(MeshService, status)
}

// Addr returns the bound address, or nil before StartAsync.
func (s *HealthServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and gracefully stops the server.
func (s *HealthServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()
	if !s.running {
		return
	}
	s.running = false
	s.grpcServer.GracefulStop()
}
