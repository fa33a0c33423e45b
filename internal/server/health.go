package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ArchiveService is the health service name reported for the filing pipeline.
const ArchiveService = "werkstatt.archive.v1.Archive"

// Pinger reports store reachability.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// HealthMonitor publishes store reachability through the gRPC health service.
type HealthMonitor struct {
	hs       *health.Server
	db       Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGRPCServer returns a server with health and reflection registered, plus the monitor
// that keeps the health status current.
func NewGRPCServer(db Pinger, interval time.Duration, logger *slog.Logger) (*grpc.Server, *HealthMonitor) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	m := &HealthMonitor{hs: hs, db: db, interval: interval, timeout: 3 * time.Second, logger: logger}
	m.check(context.Background())
	return grpcServer, m
}

// Run re-checks the store every interval until ctx is done, then reports NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.hs.Shutdown()
			return
		case <-t.C:
			m.check(ctx)
		}
	}
}

func (m *HealthMonitor) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := m.db.HealthCheck(ctx, m.timeout); err != nil {
		m.logger.Warn("database health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.hs.SetServingStatus("", status)
	m.hs.SetServingStatus(ArchiveService, status)
}

// Status returns the current status of the archive service.
func (m *HealthMonitor) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := m.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ArchiveService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
