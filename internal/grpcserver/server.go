package grpcserver

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-core/internal/observability"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// New builds the gRPC server with the health service registered.
func New(serviceName string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchDatabase flips the health status when the database stops answering pings.
func WatchDatabase(ctx context.Context, hs *health.Server, serviceName string, db Pinger, interval time.Duration, log zerolog.Logger) error {
	if db == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := db.PingContext(pingCtx)
			cancel()

			switch {
			case err != nil && serving:
				log.Error().Err(err).Msg("database ping failed, reporting NOT_SERVING")
				hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
				serving = false
			case err == nil && !serving:
				log.Info().Msg("database reachable again, reporting SERVING")
				hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
				serving = true
			}
		}
	}
}
