package control

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/eleven-am/vision-guide/internal/shared"
)

type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTimeout       time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2,
		Burst:             5,
		IdleTimeout:       5 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore keeps one token bucket per remote address. Buckets idle for longer
// than IdleTimeout are swept on the next lookup after a sweep interval has passed.
type rateLimiterStore struct {
	config RateLimiterConfig
	clock  clock.Clock

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimiterConfig, clk clock.Clock) *rateLimiterStore {
	d := DefaultRateLimiterConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = d.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = d.IdleTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &rateLimiterStore{
		config:    cfg,
		clock:     clk,
		visitors:  make(map[string]*visitor),
		lastSweep: clk.Now(),
	}
}

// allow spends one token for key. When the bucket is empty it reports how long until
// the next token.
func (s *rateLimiterStore) allow(key string) (bool, time.Duration) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.config.IdleTimeout {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) >= s.config.IdleTimeout {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - v.limiter.TokensAt(now)
	return false, time.Duration(missing / s.config.RequestsPerSecond * float64(time.Second))
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimiter rejects callers that exceed their per-address budget with 429.
func RateLimiter(cfg RateLimiterConfig, clk clock.Clock) echo.MiddlewareFunc {
	return rateLimiter(newRateLimiterStore(cfg, clk))
}

func rateLimiter(store *rateLimiterStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ok, wait := store.allow(c.RealIP()); !ok {
				return shared.TooManyRequests(c, "rate_limit_exceeded", "too many requests", wait)
			}
			return next(c)
		}
	}
}
