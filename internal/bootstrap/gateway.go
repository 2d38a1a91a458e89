package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/eleven-am/vision-guide/internal/cache"
	"github.com/eleven-am/vision-guide/internal/gateway"
	"github.com/eleven-am/vision-guide/internal/health"
	"github.com/eleven-am/vision-guide/internal/inference"
	"github.com/eleven-am/vision-guide/internal/metrics"
	"github.com/eleven-am/vision-guide/internal/queue"
	"github.com/eleven-am/vision-guide/internal/ratelimit"
)

const version = "1.0.0"

var errBackendUnavailable = errors.New("inference backend unavailable")

func ProvideBackend(cfg *Config, logger *slog.Logger) (inference.Backend, error) {
	backend, err := inference.New(inference.Config{
		Provider:  cfg.Backend.Provider,
		OllamaURL: cfg.Backend.OllamaURL,
		OpenAIURL: cfg.Backend.OpenAIURL,
		APIKey:    cfg.Backend.APIKey,
		Model:     cfg.Backend.Model,
		MaxTokens: cfg.Backend.MaxTokens,
		Timeout:   cfg.Backend.Timeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("inference backend configured", "provider", backend.Name())
	return backend, nil
}

func ProvideGatewayConfig(cfg *Config) gateway.Config {
	return gateway.Config{
		FingerprintPrefix: cfg.FingerprintPrefix,
		AwaitTimeout:      cfg.AwaitTimeout,
	}
}

func ProvideRateLimitConfig(cfg *Config) ratelimit.Config {
	return ratelimit.Config{
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Window:       cfg.RateLimit.Window,
		MinSpacing:   cfg.RateLimit.MinSpacing,
	}
}

func ProvideCacheConfig(cfg *Config) cache.Config {
	return cache.Config{
		TTL:              cfg.Cache.TTL,
		MaxEntries:       cfg.Cache.MaxEntries,
		SweepProbability: cfg.Cache.SweepProbability,
	}
}

func ProvideQueueConfig(cfg *Config) queue.Config {
	return queue.Config{
		SaturationThreshold: cfg.Queue.SaturationThreshold,
		Pacing:              cfg.Queue.Pacing,
		Timeout:             cfg.Queue.Timeout,
	}
}

// ProvideGatewayHealth reports the backend as a non-critical component: with the backend
// down the gateway still answers every request with a fallback result.
func ProvideGatewayHealth(backend inference.Backend, gw *gateway.Gateway) *health.Handler {
	h := health.NewHandler(version)
	h.AddCheck("backend", false, func(ctx context.Context) error {
		if !backend.IsAvailable(ctx) {
			return errBackendUnavailable
		}
		return nil
	})
	h.SetStats(func() any { return gw.Stats() })
	return h
}

type GatewayRouteParams struct {
	fx.In

	Echo      *echo.Echo
	Handler   *gateway.Handler
	Registry  *prometheus.Registry
	Config    *Config
	Logger    *slog.Logger
	Lifecycle fx.Lifecycle
}

func RegisterGatewayRoutes(p GatewayRouteParams) {
	p.Handler.RegisterRoutes(p.Echo.Group("/v1"))
	RegisterMetricsRoute(p.Echo, p.Registry)
	startServer(p.Lifecycle, p.Echo, p.Config.ServerAddr, p.Logger)
}

var GatewayModule = fx.Options(
	fx.Provide(
		ProvideBackend,
		ProvideGatewayConfig,
		ProvideRateLimitConfig,
		ProvideCacheConfig,
		ProvideQueueConfig,
		ProvideGatewayHealth,
		NewEchoServer,
	),
	fx.Invoke(RegisterGatewayRoutes),
)

// RunGateway starts the analysis gateway: the HTTP API, /metrics and the gRPC health
// endpoint.
func RunGateway() {
	fx.New(
		InfrastructureModule,
		metrics.Module,
		gateway.Module,
		GatewayModule,
		GRPCModule,
	).Run()
}
