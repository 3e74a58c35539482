// Package server provides the listeners of the watch daemon: a gRPC health
// endpoint and an HTTP metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reported for the policy watcher.
const ServiceName = "policykeeper.Watcher"

const shutdownTimeout = 30 * time.Second

// HealthServer manages the gRPC health endpoint lifecycle.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	addr     string
	listener net.Listener
}

// NewHealthServer creates a health server for addr. Both the overall and the
// watcher service status start NOT_SERVING.
func NewHealthServer(addr string) (*HealthServer, error) {
	if addr == "" {
		return nil, fmt.Errorf("health address cannot be empty")
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	s := &HealthServer{server: server, health: healthServer, addr: addr}
	s.SetServing(false)
	return s, nil
}

// SetServing flips the reported status of the watcher service and of the
// server as a whole.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Listen binds the listener without serving, so callers learn the bound
// address (":0" picks a free port) before Serve.
func (s *HealthServer) Listen() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Start binds the listener if needed and serves until Shutdown.
func (s *HealthServer) Start(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown marks the server NOT_SERVING and stops it gracefully, forcing a
// stop after 30 seconds or when ctx ends.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
