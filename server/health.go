// Package server exposes the standard gRPC health service. The process
// itself is always SERVING; DispatchService follows the transport circuit
// so an orchestrator can tell when reminders are being held back.
package server

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/circuit"
)

// DispatchService is the health service name that mirrors the circuit.
const DispatchService = "yoman.pulse.Dispatch"

// Health serves grpc.health.v1.
type Health struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	log    *zap.SugaredLogger
}

// New creates a health server for addr. Nothing listens until Serve.
func New(addr string, log *zap.SugaredLogger) *Health {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Health{
		addr:   addr,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		log:    log.With(logger.FieldComponent, "health"),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.health.SetServingStatus(DispatchService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewFromAm reads the health section of am.toml. It returns nil when no
// address is configured.
func NewFromAm(c *am.Config, log *zap.SugaredLogger) *Health {
	if c.Health.GRPCAddr == "" {
		return nil
	}
	return New(c.Health.GRPCAddr, log)
}

// Follow mirrors b's state from now on.
func (h *Health) Follow(b *circuit.Breaker) {
	h.SetCircuit(b.State())
	b.OnTransition(func(t circuit.Transition) {
		h.SetCircuit(t.To)
	})
}

// SetCircuit updates DispatchService. A half-open circuit admits a probe,
// so it counts as serving.
func (h *Health) SetCircuit(s circuit.State) {
	status := healthpb.HealthCheckResponse_SERVING
	if s == circuit.Open {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(DispatchService, status)
	h.log.Debugw("Dispatch health changed", logger.FieldState, s.String(), "status", status.String())
}

// Serve listens on the configured address until ctx ends.
func (h *Health) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", h.addr)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx ends, then reports every service
// as NOT_SERVING and stops gracefully.
func (h *Health) ServeListener(ctx context.Context, lis net.Listener) error {
	h.log.Infow("Starting gRPC health server", logger.FieldAddress, lis.Addr().String())

	go func() {
		<-ctx.Done()
		h.log.Info("Shutting down gRPC health server")
		h.health.Shutdown()
		h.grpc.GracefulStop()
	}()

	if err := h.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "gRPC server error")
	}
	return nil
}
