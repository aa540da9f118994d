package rpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/charmbracelet/log"
)

// Server owns the listener and *grpc.Server for the binary RPC transport.
type Server struct {
	grpcSrv *grpc.Server
	health  *health.Server
	addr    string
	logger  *log.Logger
}

// NewServer builds the gRPC server with message-size limits satisfying the
// >= 256MiB frame floor and registers the standard health service
// alongside the vault service.
func NewServer(addr string, handler *Handler, maxFrameBytes int64, logger *log.Logger) *Server {
	grpcSrv := grpc.NewServer(
		grpc.MaxRecvMsgSize(int(maxFrameBytes)),
		grpc.MaxSendMsgSize(int(maxFrameBytes)),
	)
	RegisterVaultServer(grpcSrv, handler)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpcSrv: grpcSrv, health: healthSrv, addr: addr, logger: logger}
}

// MarkServing flips the health status to SERVING, once the core service
// has transitioned to READY.
func (s *Server) MarkServing() {
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// MarkNotServing flips the health status back, once the core service begins
// draining.
func (s *Server) MarkNotServing() {
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serve binds the listener and blocks until the server stops.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", s.addr, err)
	}
	s.logger.Info("rpc transport listening", "addr", s.addr)
	return s.grpcSrv.Serve(lis)
}

// Shutdown gracefully drains in-flight RPCs, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
}
