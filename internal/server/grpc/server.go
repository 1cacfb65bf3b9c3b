package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/dmitrijs2005/fileproxy/internal/logging"
)

// IngestService is the service name whose health mirrors the backend.
const IngestService = "fileproxy.Ingest"

// Prober reports whether the storage backend is usable.
type Prober interface {
	HealthCheck(ctx context.Context) bool
}

// GRPCServer exposes the standard gRPC health service. Its status follows a
// periodic backend probe, so orchestrators can gate traffic on it.
type GRPCServer struct {
	address  string
	probe    Prober
	interval time.Duration
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(a string, l logging.Logger, p Prober, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &GRPCServer{
		address:  a,
		probe:    p,
		interval: interval,
		logger:   l.With("module", "grpc_server"),
		health:   health.NewServer(),
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve runs the server on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.requestLogInterceptor))

	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	// first status before accepting connections
	s.updateStatus(ctx)

	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

func (s *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateStatus(ctx)
		}
	}
}

func (s *GRPCServer) updateStatus(ctx context.Context) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.probe == nil || s.probe.HealthCheck(ctx) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if ctx.Err() != nil {
		return
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(IngestService, status)
	s.logger.Debug(ctx, "health status updated", "status", status.String())
}
