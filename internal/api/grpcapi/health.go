// Package grpcapi exposes migration service health over the standard gRPC
// health checking protocol.
package grpcapi

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// ServiceName is the health service name reported next to the overall ("") status
const ServiceName = "dbagent.Migrations"

const probeTimeout = 5 * time.Second

// HealthChecker reports whether the migration target is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthServer mirrors the checker's result into a gRPC health server
type HealthServer struct {
	server   *health.Server
	checker  HealthChecker
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHealthServer creates a health server probing checker every interval
func NewHealthServer(checker HealthChecker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &HealthServer{
		server:   health.NewServer(),
		checker:  checker,
		interval: interval,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register adds the health service to g
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.server)
}

// Check answers a health request directly
func (s *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.server.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Probe runs the checker once and updates the served status
func (s *HealthServer) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := s.checker.HealthCheck(ctx); err != nil {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.server.SetServingStatus("", status)
	s.server.SetServingStatus(ServiceName, status)
}

// Start probes immediately and then on every interval until Stop
func (s *HealthServer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
}

func (s *HealthServer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Probe(ctx); err != nil {
			logger.Warnf("Health probe failed: %v", err)
		}
		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends probing and reports NOT_SERVING to connected watchers
func (s *HealthServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.server.Shutdown()
}
