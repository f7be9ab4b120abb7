package observability

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/orbit-tracker/internal/logging"
)

// FeedHealthService is the grpc.health.v1 service name whose status follows
// the outcome of the last feed fetch. The empty service name reports
// process liveness and is always SERVING.
const FeedHealthService = "orbit.tracker.Feed"

// HealthServer is a gRPC server exposing only the standard health service.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealthServer builds the server. The feed service starts NOT_SERVING
// until the first successful ingestion.
func NewHealthServer(collector *TrackerCollector, log logging.Logger) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(FeedHealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{srv: srv, health: hs, log: logging.OrNoop(log)}
}

// SetFeedServing records whether the last feed fetch succeeded.
func (h *HealthServer) SetFeedServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(FeedHealthService, status)
}

// Serve blocks serving lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info(context.Background(), "gRPC health server listening", logging.String("address", lis.Addr().String()))
	return h.srv.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
