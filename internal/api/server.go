package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
)

// Server hosts the Sweeper gRPC service on one listener.
type Server struct {
	addr string
	gs   *grpc.Server
	log  *slog.Logger
}

// NewServer creates a Server for addr with svc registered.
func NewServer(addr string, svc *Service, opts ...grpc.ServerOption) *Server {
	s := &Server{
		addr: addr,
		log:  slog.Default().With("component", "grpc-server"),
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.logUnary)}, opts...)
	s.gs = grpc.NewServer(opts...)
	svc.RegisterGRPC(s.gs)
	return s
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.gs.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting new RPCs and waits for in-flight ones.
func (s *Server) Shutdown() {
	s.gs.GracefulStop()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("rpc", "method", info.FullMethod, "elapsed", time.Since(start), "error", err)
	return resp, err
}
