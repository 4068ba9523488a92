package api

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/observability"
)

// NewServer builds a gRPC server with the standard interceptor chain and
// registers svc on it. collector may be nil.
func NewServer(svc PlacementServiceServer, log logging.Logger, collector *observability.RPCCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	}
	server := grpc.NewServer(append(base, opts...)...)
	RegisterPlacementServiceServer(server, svc)
	return server
}
