package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Config struct {
	MaxPerWindow int
	Window       time.Duration
	MinSpacing   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPerWindow: 3,
		Window:       time.Minute,
		MinSpacing:   15 * time.Second,
	}
}

type Reason string

const (
	ReasonNone    Reason = ""
	ReasonSpacing Reason = "spacing"
	ReasonWindow  Reason = "window"
)

type Decision struct {
	Allowed     bool
	Reason      Reason
	Wait        time.Duration
	WaitSeconds int
}

type clientState struct {
	windowStart   time.Time
	count         int
	lastRequestAt time.Time
}

// Limiter enforces, per client id, both a minimum spacing between admitted requests and a
// maximum count per window. Spacing stops bursts; the window count stops sustained rates.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	clients map[string]*clientState
}

func New(cfg Config, clk clock.Clock) *Limiter {
	def := DefaultConfig()
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = def.MaxPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clk,
		clients: make(map[string]*clientState),
	}
}

// Allow records an admission attempt for clientID. Denied attempts leave the client's
// state untouched.
func (l *Limiter) Allow(clientID string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.clients[clientID]
	if !ok {
		l.clients[clientID] = &clientState{windowStart: now, count: 1, lastRequestAt: now}
		return Decision{Allowed: true}
	}

	if now.Sub(st.windowStart) > l.cfg.Window {
		st.windowStart = now
		st.count = 1
		st.lastRequestAt = now
		return Decision{Allowed: true}
	}

	if sinceLast := now.Sub(st.lastRequestAt); sinceLast < l.cfg.MinSpacing {
		return deny(ReasonSpacing, l.cfg.MinSpacing-sinceLast)
	}

	if st.count >= l.cfg.MaxPerWindow {
		return deny(ReasonWindow, l.cfg.Window-now.Sub(st.windowStart))
	}

	st.count++
	st.lastRequestAt = now
	return Decision{Allowed: true}
}

func deny(reason Reason, wait time.Duration) Decision {
	if wait < 0 {
		wait = 0
	}
	return Decision{
		Reason:      reason,
		Wait:        wait,
		WaitSeconds: ceilSeconds(wait),
	}
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// Clients returns how many client ids currently have throttle state.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) Config() Config {
	return l.cfg
}
