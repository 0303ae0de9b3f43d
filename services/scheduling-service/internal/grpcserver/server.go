// Package grpcserver serves the standard gRPC health service, reporting the
// readiness of the scheduling store and its dependencies.
package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/dteedee/medix/libs/grpcx"
	"github.com/dteedee/medix/libs/runtime"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name clients may ask for besides "".
const ServiceName = "medix.scheduling.v1.Scheduling"

type Server struct {
	srv      *grpcx.Server
	checks   []runtime.ReadyCheck
	logger   *slog.Logger
	interval time.Duration
	last     healthpb.HealthCheckResponse_ServingStatus
}

func New(logger *slog.Logger, checks []runtime.ReadyCheck, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Server{
		srv:      grpcx.NewServer(logger),
		checks:   checks,
		logger:   logger,
		interval: interval,
	}
}

// Run serves on addr until ctx is cancelled, refreshing health every interval.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.watch(ctx)
	s.logger.Info("grpc server starting", "addr", addr)
	return s.srv.Serve(ctx, addr)
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh runs the checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := runtime.RunChecks(ctx, s.checks); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if s.last != status {
			s.logger.Warn("grpc health not serving", "failures", failures)
		}
	}
	s.last = status
	s.srv.Health.SetServingStatus("", status)
	s.srv.Health.SetServingStatus(ServiceName, status)
	return status
}
