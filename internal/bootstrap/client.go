package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/eleven-am/vision-guide/internal/control"
	"github.com/eleven-am/vision-guide/internal/health"
	"github.com/eleven-am/vision-guide/internal/motion"
	"github.com/eleven-am/vision-guide/internal/narration"
	"github.com/eleven-am/vision-guide/internal/realtime"
	"github.com/eleven-am/vision-guide/internal/scheduler"
	"github.com/eleven-am/vision-guide/internal/vision"
)

var errGatewayUnavailable = errors.New("analysis gateway unavailable")

func ProvideFrameStore(rdb *redis.Client, cfg *Config) *vision.Store {
	return vision.NewStore(rdb, cfg.Client.FrameTTL, cfg.Client.MaxFrames)
}

func ProvideFrameCapturer(store *vision.Store, cfg *Config, clk clock.Clock, logger *slog.Logger) *vision.FrameCapturer {
	return vision.NewFrameCapturer(vision.CapturerConfig{
		StreamID:    cfg.Client.StreamID,
		Store:       store,
		CaptureRate: cfg.Client.CaptureRate,
		JPEGQuality: cfg.Client.JPEGQuality,
		Clock:       clk,
		Logger:      logger,
	})
}

func ProvideRTPListener(lc fx.Lifecycle, capturer *vision.FrameCapturer, cfg *Config, logger *slog.Logger) *vision.RTPListener {
	l := vision.NewRTPListener(cfg.Client.RTPAddr, cfg.Client.Codec, capturer, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return l.Start()
		},
		OnStop: func(context.Context) error {
			return l.Stop()
		},
	})
	return l
}

func ProvideFrameSource(store *vision.Store, cfg *Config, clk clock.Clock) *vision.StoreSource {
	return vision.NewStoreSource(store, cfg.Client.StreamID, cfg.Client.StaleAfter, clk)
}

func ProvideGatewayClient(cfg *Config) *vision.GatewayClient {
	return vision.NewGatewayClient(vision.Config{
		GatewayURL: cfg.Client.GatewayURL,
		ClientID:   cfg.Client.ClientID,
		Timeout:    cfg.Client.RequestTimeout,
	})
}

func ProvideNarrationHub(clk clock.Clock, logger *slog.Logger) *narration.Hub {
	return narration.NewHub(clk, logger)
}

func ProvideNarrationQueue(lc fx.Lifecycle, hub *narration.Hub, clk clock.Clock, logger *slog.Logger) *narration.Queue {
	q := narration.NewQueue(hub, clk, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			q.Close()
			return nil
		},
	})
	return q
}

func ProvideAnalyzer(cfg *Config, source *vision.StoreSource, gw *vision.GatewayClient, q *narration.Queue, clk clock.Clock, logger *slog.Logger) *vision.Analyzer {
	acfg := vision.DefaultAnalyzerConfig()
	acfg.UploadMaxDimension = cfg.Client.UploadMaxDimension
	acfg.UploadQuality = cfg.Client.UploadQuality
	acfg.FailureDecrement = cfg.Client.FallbackDecrement
	acfg.FailureFloor = cfg.Client.FallbackFloor
	acfg.DefaultRetry = cfg.Client.DefaultRetryWait
	return vision.NewAnalyzer(acfg, source, gw, q, clk, logger)
}

func ProvideScheduler(cfg *Config, source *vision.StoreSource, analyzer *vision.Analyzer, q *narration.Queue, clk clock.Clock, logger *slog.Logger) *scheduler.Scheduler {
	scfg := scheduler.DefaultConfig()
	scfg.PollInterval = cfg.Client.PollInterval
	scfg.MinInterval = cfg.Client.MinInterval
	scfg.StaticCooldown = cfg.Client.StaticCooldown
	scfg.ReplayInterval = cfg.Client.ReplayInterval
	scfg.ReadyTimeout = cfg.Client.ReadyTimeout
	scfg.Motion = motion.Config{
		Stride:    cfg.Client.MotionStride,
		Threshold: cfg.Client.MotionThreshold,
	}
	return scheduler.New(scfg, source, analyzer, q, clk, logger)
}

func ProvideCameraManager(lc fx.Lifecycle, cfg *Config, capturer *vision.FrameCapturer, logger *slog.Logger) (*realtime.Manager, error) {
	servers := make([]realtime.ICEServerConfig, 0, len(cfg.Client.RTCICEServers))
	for _, url := range cfg.Client.RTCICEServers {
		servers = append(servers, realtime.ICEServerConfig{URLs: []string{url}})
	}

	mgr, err := realtime.NewManager(realtime.Config{
		ICEServers: servers,
		PortRange: realtime.PortRange{
			Min: cfg.Client.RTCPortMin,
			Max: cfg.Client.RTCPortMax,
		},
		KeyframeInterval: cfg.Client.RTCKeyframeInterval,
	}, capturer, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			mgr.Close()
			return nil
		},
	})
	return mgr, nil
}

func ProvideCameraHandler(mgr *realtime.Manager, logger *slog.Logger) *realtime.Handler {
	return realtime.NewHandler(mgr, logger.With("handler", "camera"))
}

type ClientHealthParams struct {
	fx.In

	Redis     *redis.Client
	Gateway   *vision.GatewayClient
	Scheduler *scheduler.Scheduler
	Capturer  *vision.FrameCapturer
	Hub       *narration.Hub
}

type clientStats struct {
	Session   scheduler.Status     `json:"session"`
	Capture   vision.CapturerStats `json:"capture"`
	Listeners int                  `json:"narration_listeners"`
}

func ProvideClientHealth(p ClientHealthParams) *health.Handler {
	h := health.NewHandler(version)
	h.AddCheck("redis", true, func(ctx context.Context) error {
		return p.Redis.Ping(ctx).Err()
	})
	h.AddCheck("gateway", false, func(ctx context.Context) error {
		if !p.Gateway.IsAvailable(ctx) {
			return errGatewayUnavailable
		}
		return nil
	})
	h.SetStats(func() any {
		return clientStats{
			Session:   p.Scheduler.Status(),
			Capture:   p.Capturer.Stats(),
			Listeners: p.Hub.Listeners(),
		}
	})
	return h
}

type ClientRouteParams struct {
	fx.In

	Echo      *echo.Echo
	Control   *control.Handler
	Hub       *narration.Hub
	Camera    *realtime.Handler
	Listener  *vision.RTPListener
	Scheduler *scheduler.Scheduler
	Clock     clock.Clock
	Config    *Config
	Logger    *slog.Logger
	Lifecycle fx.Lifecycle
}

func RegisterClientRoutes(p ClientRouteParams) {
	api := p.Echo.Group("/v1")
	p.Hub.RegisterRoutes(api)
	p.Camera.RegisterRoutes(api)

	limited := p.Echo.Group("/v1", control.RateLimiter(control.RateLimiterConfig{
		RequestsPerSecond: p.Config.Client.ControlRatePerSecond,
		Burst:             p.Config.Client.ControlBurst,
	}, p.Clock))
	p.Control.RegisterRoutes(limited)

	startServer(p.Lifecycle, p.Echo, p.Config.Client.ControlAddr, p.Logger)

	if p.Config.Client.AutoStart {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return p.Scheduler.Start(context.Background())
			},
		})
	}
}

var ClientModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideFrameStore,
		ProvideFrameCapturer,
		ProvideRTPListener,
		ProvideCameraManager,
		ProvideCameraHandler,
		ProvideFrameSource,
		ProvideGatewayClient,
		ProvideNarrationHub,
		ProvideNarrationQueue,
		ProvideAnalyzer,
		ProvideScheduler,
		ProvideClientHealth,
		NewEchoServer,
	),
	fx.Invoke(RegisterClientRoutes),
)

// RunClient starts the client daemon: camera ingest over WebRTC or plain RTP into Redis,
// the capture loop, narration and the local control API.
func RunClient() {
	fx.New(
		InfrastructureModule,
		ClientModule,
		control.Module,
	).Run()
}
