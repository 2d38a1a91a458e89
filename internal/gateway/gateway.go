package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/cache"
	"github.com/eleven-am/vision-guide/internal/metrics"
	"github.com/eleven-am/vision-guide/internal/queue"
	"github.com/eleven-am/vision-guide/internal/ratelimit"
)

type Config struct {
	FingerprintPrefix int
	// AwaitTimeout bounds the whole wait for a queued request, including time spent behind
	// other requests. The queue's own timeout only covers the backend call.
	AwaitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FingerprintPrefix: analysis.DefaultFingerprintPrefix,
		AwaitTimeout:      60 * time.Second,
	}
}

// Gateway owns the per-process admission state. Every path through Analyze produces a
// narratable envelope; failures are folded into fallback results.
type Gateway struct {
	cfg     Config
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	queue   *queue.Queue
	metrics *metrics.Gateway
	clock   clock.Clock
	pick    analysis.Picker
	log     *slog.Logger
}

type Option func(*Gateway)

func WithClock(clk clock.Clock) Option {
	return func(g *Gateway) {
		if clk != nil {
			g.clock = clk
		}
	}
}

func WithPicker(pick analysis.Picker) Option {
	return func(g *Gateway) {
		g.pick = pick
	}
}

func WithMetrics(m *metrics.Gateway) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func New(cfg Config, limiter *ratelimit.Limiter, c *cache.Cache, q *queue.Queue, log *slog.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.FingerprintPrefix == 0 {
		cfg.FingerprintPrefix = def.FingerprintPrefix
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = def.AwaitTimeout
	}
	g := &Gateway{
		cfg:     cfg,
		limiter: limiter,
		cache:   c,
		queue:   q,
		clock:   clock.New(),
		log:     log.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Analyze answers one analysis request from clientID. The cache is consulted before the
// rate limiter, so a repeated frame never costs the client an admission slot.
func (g *Gateway) Analyze(ctx context.Context, clientID string, payload []byte) analysis.Envelope {
	req := analysis.Request{
		ID:          uuid.NewString(),
		Fingerprint: analysis.Fingerprint(payload, g.cfg.FingerprintPrefix),
		Payload:     payload,
		ClientID:    clientID,
		SubmittedAt: g.clock.Now(),
	}
	log := g.log.With("request_id", req.ID, "client_id", clientID)

	if res, ok := g.cache.Get(req.Fingerprint); ok {
		log.Debug("cache hit", "fingerprint", req.Fingerprint)
		g.metrics.Observe(metrics.OutcomeCached)
		return analysis.Cached(res)
	}

	if d := g.limiter.Allow(clientID); !d.Allowed {
		log.Debug("rate limited", "reason", d.Reason, "wait_seconds", d.WaitSeconds)
		g.metrics.Observe(metrics.OutcomeRateLimited)
		return analysis.RateLimited(d.WaitSeconds)
	}

	awaitCtx, cancel := g.clock.WithTimeout(ctx, g.cfg.AwaitTimeout)
	defer cancel()

	res, err := g.queue.Submit(awaitCtx, req)
	g.metrics.SetQueueDepth(g.queue.Depth())

	switch {
	case errors.Is(err, queue.ErrSaturated):
		log.Debug("queue saturated", "depth", g.queue.Depth())
		g.metrics.Observe(metrics.OutcomeSaturated)
		return analysis.Saturated(g.pick, g.saturationWait())
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = queue.ErrTimeout
		}
		log.Warn("analysis failed", "error", err)
		g.metrics.Observe(metrics.OutcomeSystemError)
		g.metrics.ObserveBackend(g.clock.Since(req.SubmittedAt).Seconds(), false)
		return analysis.SystemFailure(g.pick, err)
	}

	g.cache.Set(req.Fingerprint, res)
	g.metrics.SetCacheEntries(g.cache.Len())
	g.metrics.Observe(metrics.OutcomeFresh)
	g.metrics.ObserveBackend(g.clock.Since(req.SubmittedAt).Seconds(), true)
	return analysis.Fresh(res)
}

// saturationWait estimates how long the current backlog takes to drain at the pacing rate.
func (g *Gateway) saturationWait() int {
	pacing := g.queue.Config().Pacing
	if pacing <= 0 {
		return 0
	}
	backlog := time.Duration(g.queue.Depth()+1) * pacing
	return int((backlog + time.Second - 1) / time.Second)
}

type Stats struct {
	QueueDepth     int         `json:"queue_depth"`
	QueueInFlight  bool        `json:"queue_in_flight"`
	TrackedClients int         `json:"tracked_clients"`
	Cache          cache.Stats `json:"cache"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		QueueDepth:     g.queue.Depth(),
		QueueInFlight:  g.queue.InFlight(),
		TrackedClients: g.limiter.Clients(),
		Cache:          g.cache.Stats(),
	}
}

func (g *Gateway) Close() {
	g.queue.Close()
}
