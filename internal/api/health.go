package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := runChecks(r.Context(), s.checks); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type checkError struct {
	name string
	err  error
}

func (e *checkError) Error() string { return e.name + " not ready: " + e.err.Error() }
func (e *checkError) Unwrap() error { return e.err }

func runChecks(ctx context.Context, checks map[string]ReadyCheck) error {
	ctxPing, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for name, check := range checks {
		if err := check(ctxPing); err != nil {
			return &checkError{name: name, err: err}
		}
	}
	return nil
}

// GRPCHealth serves the standard gRPC health service and keeps its status
// in line with the readiness checks.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]ReadyCheck
	interval time.Duration
	logger   zerolog.Logger
}

// NewGRPCHealth creates the gRPC health server.
func NewGRPCHealth(checks map[string]ReadyCheck, interval time.Duration, logger zerolog.Logger) *GRPCHealth {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GRPCHealth{
		server:   srv,
		health:   hs,
		checks:   checks,
		interval: interval,
		logger:   logger.With().Str("component", "grpc_health").Logger(),
	}
}

// Refresh re-runs the checks and publishes the resulting status.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := runChecks(ctx, g.checks); err != nil {
		g.logger.Warn().Err(err).Msg("service not ready")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	return status
}

// Serve listens on lis until ctx is cancelled.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()

	g.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
