// Package grpctransport exposes the worker's liveness over the standard
// grpc.health.v1.Health service.
package grpctransport

import (
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer reports SERVING for the empty service name and for service
// while the worker is consuming, NOT_SERVING once it starts shutting down.
type HealthServer struct {
	srv     *grpc.Server
	health  *health.Server
	service string
	log     *zap.Logger
}

func NewHealthServer(service string, log *zap.Logger) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthServer{srv: srv, health: hs, service: service, log: log}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) SetServing(serving bool) {
	if serving {
		h.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (h *HealthServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(h.service, st)
}

// Serve blocks until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
