package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGateway(reg)

	m.Observe(OutcomeFresh)
	m.Observe(OutcomeFresh)
	m.Observe(OutcomeCached)
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues(string(OutcomeFresh))); got != 2 {
		t.Fatalf("expected fresh counter 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues(string(OutcomeCached))); got != 1 {
		t.Fatalf("expected cached counter 1, got %f", got)
	}

	m.SetQueueDepth(4)
	if got := testutil.ToFloat64(m.queueDepth); got != 4 {
		t.Fatalf("expected queue depth 4, got %f", got)
	}

	m.SetCacheEntries(12)
	if got := testutil.ToFloat64(m.cacheEntries); got != 12 {
		t.Fatalf("expected cache entries 12, got %f", got)
	}

	m.ObserveBackend(0.4, true)
	m.ObserveBackend(2, false)
	if samples := testutil.CollectAndCount(m.backendLatency); samples != 2 {
		t.Fatalf("expected 2 histogram series, got %d", samples)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 4 {
		t.Errorf("expected 4 metric families, got %d", len(families))
	}
}

func TestNilGatewayIsNoop(t *testing.T) {
	var m *Gateway
	m.Observe(OutcomeFresh)
	m.SetQueueDepth(1)
	m.SetCacheEntries(1)
	m.ObserveBackend(1, true)
}
