package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type RequestStats struct {
	TotalRequests uint64 `json:"total_requests"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Requests      RequestStats               `json:"requests"`
	Runtime       RuntimeStats               `json:"runtime"`
	Stats         any                        `json:"stats,omitempty"`
	Components    map[string]ComponentStatus `json:"components"`
}

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type component struct {
	name     string
	check    Check
	critical bool
}

// Handler serves liveness and readiness for whichever binary registers it. Each binary
// adds its own component checks and a stats snapshot.
type Handler struct {
	version   string
	startTime time.Time
	timeout   time.Duration

	components []component
	stats      func() any

	totalRequests uint64
}

func NewHandler(version string) *Handler {
	return &Handler{
		version:   version,
		startTime: time.Now(),
		timeout:   10 * time.Second,
	}
}

// AddCheck registers a component. A failing critical component makes the whole service
// unhealthy; any other failure only degrades it.
func (h *Handler) AddCheck(name string, critical bool, check Check) {
	h.components = append(h.components, component{name: name, check: check, critical: critical})
}

func (h *Handler) SetStats(fn func() any) {
	h.stats = fn
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

// CountRequests is echo middleware feeding the request counter.
func (h *Handler) CountRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h.IncrementRequests()
		return next(c)
	}
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	resp := h.Report(c.Request().Context())

	statusCode := http.StatusOK
	if resp.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (h *Handler) Report(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	components := make(map[string]ComponentStatus, len(h.components))
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(len(h.components))
	for _, comp := range h.components {
		go func(comp component) {
			defer wg.Done()
			status := runCheck(ctx, comp)
			mu.Lock()
			components[comp.name] = status
			mu.Unlock()
		}(comp)
	}
	wg.Wait()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        h.computeOverallStatus(components),
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Requests: RequestStats{
			TotalRequests: atomic.LoadUint64(&h.totalRequests),
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			MemorySysMB:   memStats.Sys / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Components: components,
	}
	if h.stats != nil {
		resp.Stats = h.stats()
	}
	return resp
}

func runCheck(ctx context.Context, comp component) ComponentStatus {
	start := time.Now()
	if err := comp.check(ctx); err != nil {
		status := StatusDegraded
		if comp.critical {
			status = StatusUnhealthy
		}
		return ComponentStatus{
			Status:    status,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	hasDegraded := false
	for _, status := range components {
		switch status.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
