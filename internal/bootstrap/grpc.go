package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.uber.org/fx"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/eleven-am/vision-guide/internal/inference"
)

// GatewayServiceName is the service reported by the gRPC health endpoint. Its status
// follows backend availability; the empty service name always reports serving.
const GatewayServiceName = "visionguide.Gateway"

const backendProbeInterval = 30 * time.Second

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func ProvideHealthServer(server *grpc.Server) *grpchealth.Server {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return hs
}

// probeBackend flips the gateway service between SERVING and NOT_SERVING.
func probeBackend(ctx context.Context, hs *grpchealth.Server, backend inference.Backend) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if backend.IsAvailable(ctx) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(GatewayServiceName, status)
}

func StartGRPCServer(lc fx.Lifecycle, server *grpc.Server, hs *grpchealth.Server, backend inference.Backend, cfg *Config, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				cancel()
				return err
			}
			go func() {
				logger.Info("gRPC health server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			go func() {
				ticker := time.NewTicker(backendProbeInterval)
				defer ticker.Stop()
				for {
					probeBackend(ctx, hs, backend)
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hs.Shutdown()
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(
		NewGRPCServer,
		ProvideHealthServer,
	),
	fx.Invoke(StartGRPCServer),
)
