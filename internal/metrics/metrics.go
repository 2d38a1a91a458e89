package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Outcome string

const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeCached      Outcome = "cached"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSaturated   Outcome = "queue_saturated"
	OutcomeSystemError Outcome = "system_error"
	OutcomeInvalid     Outcome = "invalid"
)

// Gateway holds the collectors for the analysis gateway. A nil *Gateway is valid and
// records nothing.
type Gateway struct {
	outcomes       *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	cacheEntries   prometheus.Gauge
	backendLatency *prometheus.HistogramVec
}

func NewGateway(reg prometheus.Registerer) *Gateway {
	g := &Gateway{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vision_gateway_requests_total",
			Help: "Analysis requests by how they were answered.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vision_gateway_queue_depth",
			Help: "Requests waiting for the backend worker.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vision_gateway_cache_entries",
			Help: "Results currently held in the fingerprint cache.",
		}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vision_gateway_backend_seconds",
			Help:    "Time from enqueue to resolution of a backend analysis.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(g.outcomes, g.queueDepth, g.cacheEntries, g.backendLatency)
	}
	return g
}

func (g *Gateway) Observe(outcome Outcome) {
	if g == nil {
		return
	}
	g.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (g *Gateway) SetQueueDepth(depth int) {
	if g == nil {
		return
	}
	g.queueDepth.Set(float64(depth))
}

func (g *Gateway) SetCacheEntries(n int) {
	if g == nil {
		return
	}
	g.cacheEntries.Set(float64(n))
}

func (g *Gateway) ObserveBackend(seconds float64, ok bool) {
	if g == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	g.backendLatency.WithLabelValues(result).Observe(seconds)
}

func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func ProvideGateway(reg *prometheus.Registry) *Gateway {
	return NewGateway(reg)
}

var Module = fx.Options(
	fx.Provide(
		ProvideRegistry,
		ProvideGateway,
	),
)
