// Package server exposes the merged book over gRPC.
package server

import (
	"fmt"
	"net"

	"github.com/fathom-terminal/fathom/internal/book"
	orderbookv1 "github.com/fathom-terminal/fathom/internal/gen/orderbook/v1"
	"google.golang.org/grpc"
)

// Server wraps the gRPC server and its TCP listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// New creates an aggregator gRPC server bound to addr. It registers the
// OrderbookAggregator handler and prepares the listener; call Serve to start
// accepting connections.
func New(addr string, pub *book.Publisher) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	orderbookv1.RegisterOrderbookAggregatorServer(gs, NewHandler(pub))

	return &Server{
		grpcServer: gs,
		listener:   lis,
	}, nil
}

// Addr returns the bound listen address, useful when addr used port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting gRPC connections. It blocks until the server is
// stopped or an error occurs.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}
