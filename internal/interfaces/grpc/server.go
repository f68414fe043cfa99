package grpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Server hosts the gRPC listener used by internal services. Token
// verification for callers happens in the interceptor chain, so every
// registered service sees only authenticated machine identities.
type Server struct {
	cfg    *config.Config
	log    logger.Logger
	server *grpc.Server
	health *health.Server
}

// NewServer builds the server with the interceptor chain installed.
func NewServer(cfg *config.Config, log logger.Logger, chain *InterceptorChain) *Server {
	srv := grpc.NewServer(chain.ChainUnaryInterceptors())

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{cfg: cfg, log: log.WithComponent("grpc-server"), server: srv, health: hs}
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() grpc.ServiceRegistrar { return s.server }

// Start listens until Stop is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", addr, err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Info(context.Background(), "gRPC server listening", logger.String("addr", addr))
	return s.server.Serve(lis)
}

// Stop marks the server unhealthy and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.server.GracefulStop()
}
