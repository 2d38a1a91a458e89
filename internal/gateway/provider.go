package gateway

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/eleven-am/vision-guide/internal/cache"
	"github.com/eleven-am/vision-guide/internal/inference"
	"github.com/eleven-am/vision-guide/internal/metrics"
	"github.com/eleven-am/vision-guide/internal/queue"
	"github.com/eleven-am/vision-guide/internal/ratelimit"
)

type Params struct {
	fx.In

	Config    Config
	RateLimit ratelimit.Config
	Cache     cache.Config
	Queue     queue.Config
	Backend   inference.Backend
	Clock     clock.Clock
	Metrics   *metrics.Gateway
	Logger    *slog.Logger
	Lifecycle fx.Lifecycle
}

func ProvideGateway(p Params) *Gateway {
	limiter := ratelimit.New(p.RateLimit, p.Clock)
	resultCache := cache.New(p.Cache, p.Clock)
	q := queue.New(p.Backend, p.Queue, p.Clock, p.Logger)

	gw := New(p.Config, limiter, resultCache, q, p.Logger,
		WithClock(p.Clock),
		WithMetrics(p.Metrics),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			gw.Close()
			return nil
		},
	})
	return gw
}

func ProvideHandler(gw *Gateway, m *metrics.Gateway, logger *slog.Logger) *Handler {
	return NewHandler(gw, m, logger.With("handler", "gateway"))
}

var Module = fx.Options(
	fx.Provide(
		ProvideGateway,
		ProvideHandler,
	),
)
