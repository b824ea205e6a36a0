// Package health reports whether the service can reach its database, over
// HTTP and optionally over the standard gRPC health protocol.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "digdeeper"

const pingTimeout = 2 * time.Second

// Pinger is anything that can check its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler answers GET /api/health.
func Handler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// GRPCServer serves grpc.health.v1.Health, refreshing the status from a
// Pinger on every interval.
type GRPCServer struct {
	server   *grpc.Server
	health   *grpchealth.Server
	pinger   Pinger
	interval time.Duration
}

// NewGRPCServer creates the health server. Status starts as NOT_SERVING
// until the first probe.
func NewGRPCServer(p Pinger, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := grpchealth.NewServer()
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	g := &GRPCServer{server: s, health: hs, pinger: p, interval: interval}
	g.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

func (g *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Probe pings once and updates the reported status.
func (g *GRPCServer) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := g.pinger.Ping(ctx); err != nil {
		slog.Warn("grpc health probe failed", "error", err)
		g.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	g.set(healthpb.HealthCheckResponse_SERVING)
}

// Serve probes and serves on lis until ctx is done, then stops gracefully.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	g.Probe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Probe(ctx)
			}
		}
	}()

	slog.Info("grpc health server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	<-done
	return nil
}
