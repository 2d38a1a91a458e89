package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/motion"
	"github.com/eleven-am/vision-guide/internal/narration"
)

var (
	ErrBusy           = errors.New("analysis already in flight")
	ErrNotRunning     = errors.New("capture loop is not running")
	ErrAlreadyRunning = errors.New("capture loop already running")
	ErrNotReady       = errors.New("capture source did not become ready")
)

type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePolling
	StateTriggering
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateTriggering:
		return "triggering"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateWaiting, StatePolling, StateTriggering} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scheduler state %q", b)
}

// FrameSource is the camera as the loop sees it. Dimensions doubles as the readiness
// predicate: a source is ready once it reports a non-zero size.
type FrameSource interface {
	Dimensions(ctx context.Context) (width, height int, err error)
	Capture(ctx context.Context) (image.Image, error)
}

// Analyzer owns the in-flight latch. AnalyzeAndNarrate returns ErrBusy without side
// effects while a call is outstanding.
type Analyzer interface {
	AnalyzeAndNarrate(ctx context.Context) (analysis.Result, error)
	InFlight() bool
	LastResult() (analysis.Result, bool)
	Activate()
	Deactivate()
}

type Config struct {
	PollInterval   time.Duration
	MinInterval    time.Duration
	StaticCooldown time.Duration
	ReplayInterval time.Duration
	ReadyTimeout   time.Duration
	FrameWidth     int
	FrameHeight    int
	Motion         motion.Config
	Greeting       string
	CaptureFailure string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   500 * time.Millisecond,
		MinInterval:    5 * time.Second,
		StaticCooldown: 8 * time.Second,
		ReplayInterval: 3 * time.Second,
		ReadyTimeout:   15 * time.Second,
		FrameWidth:     motion.DefaultWidth,
		FrameHeight:    motion.DefaultHeight,
		Motion:         motion.DefaultConfig(),
		Greeting:       "Hello, I'm your visual assistant. I'll describe what's around you automatically and guide you safely as you move.",
		CaptureFailure: "I can't see through the camera. Check that it is connected and that access is allowed, then start again.",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.StaticCooldown <= 0 {
		c.StaticCooldown = d.StaticCooldown
	}
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = d.ReplayInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		c.FrameWidth, c.FrameHeight = d.FrameWidth, d.FrameHeight
	}
	if c.Motion.Stride <= 0 {
		c.Motion.Stride = d.Motion.Stride
	}
	if c.Motion.Threshold <= 0 {
		c.Motion.Threshold = d.Motion.Threshold
	}
	if c.Greeting == "" {
		c.Greeting = d.Greeting
	}
	if c.CaptureFailure == "" {
		c.CaptureFailure = d.CaptureFailure
	}
	return c
}

// Status is a point-in-time view of the loop for the control API.
type Status struct {
	State       State     `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
	LastTrigger time.Time `json:"lastTrigger"`
	LastScore   float64   `json:"lastMotionScore"`
	Triggers    int       `json:"triggers"`
	Replays     int       `json:"replays"`
	InFlight    bool      `json:"inFlight"`
	LastError   string    `json:"lastError,omitempty"`
}

// Scheduler polls the camera, runs the frame differencer and decides when a full
// analysis is worth a backend request.
type Scheduler struct {
	cfg      Config
	source   FrameSource
	analyzer Analyzer
	narrator narration.Narrator
	clock    clock.Clock
	log      *slog.Logger
	diff     *motion.Differencer
	replay   *rate.Limiter

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	lastTrigger time.Time
	triggered   bool
	lastScore   float64
	triggers    int
	replays     int
	lastErr     error
}

func New(cfg Config, source FrameSource, analyzer Analyzer, narrator narration.Narrator, clk clock.Clock, log *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		analyzer: analyzer,
		narrator: narrator,
		clock:    clk,
		log:      log.With("component", "capture-scheduler"),
		diff:     motion.NewDifferencer(cfg.Motion),
		replay:   rate.NewLimiter(rate.Every(cfg.ReplayInterval), 1),
	}
}

// Start greets the user and begins waiting for the capture source. The loop outlives
// ctx only until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	go s.loop(runCtx, done)
	return nil
}

func (s *Scheduler) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateWaiting
	s.startedAt = s.clock.Now()
	s.lastTrigger = time.Time{}
	s.triggered = false
	s.lastErr = nil
	s.mu.Unlock()

	s.diff.Reset()
	s.analyzer.Activate()
	s.narrate(s.cfg.Greeting, narration.PriorityHigh)
	s.log.Info("capture loop started")
	return runCtx, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(s.cfg.PollInterval)
	defer ticker.Stop()

	if !s.tick(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx) {
				return
			}
		}
	}
}

// Stop cancels the poll timer, drops any scheduled retry and releases the in-flight
// latch. It is a no-op when the loop is idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	done := s.done
	running := s.state != StateIdle
	s.mu.Unlock()
	if !running {
		return
	}

	s.halt(nil)
	if done != nil {
		<-done
	}
	s.log.Info("capture loop stopped")
}

func (s *Scheduler) halt(cause error) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if cause != nil {
		s.lastErr = cause
	}
	s.mu.Unlock()

	s.analyzer.Deactivate()
	s.diff.Reset()
}

// tick runs one poll. It returns false once the loop must end.
func (s *Scheduler) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	if s.State() == StateWaiting {
		ready, err := s.ready(ctx)
		if !ready {
			if err == nil && s.clock.Since(s.started()) < s.cfg.ReadyTimeout {
				return true
			}
			if err == nil {
				err = ErrNotReady
			}
			s.captureFailed(err)
			return false
		}
		s.setState(StateWaiting, StatePolling)
		s.log.Info("capture source ready")
	}

	img, err := s.source.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.captureFailed(err)
		return false
	}

	frame := motion.Downscale(img, s.cfg.FrameWidth, s.cfg.FrameHeight)
	score, significant := s.diff.Observe(frame)

	now := s.clock.Now()
	s.mu.Lock()
	s.lastScore = score
	since, triggered := now.Sub(s.lastTrigger), s.triggered
	s.mu.Unlock()

	inFlight := s.analyzer.InFlight()
	switch {
	case significant && (!triggered || since > s.cfg.MinInterval) && !inFlight:
		s.log.Debug("motion trigger", "score", score)
		s.trigger(ctx, now)
	case significant:
		s.replayLast(now, since)
	case (!triggered || since >= s.cfg.StaticCooldown) && !inFlight:
		s.log.Debug("static trigger", "since_last", since)
		s.trigger(ctx, now)
	}
	return true
}

func (s *Scheduler) ready(ctx context.Context) (bool, error) {
	w, h, err := s.source.Dimensions(ctx)
	if err != nil {
		return false, err
	}
	return w > 0 && h > 0, nil
}

// trigger records the trigger time before the analysis starts so slow responses cannot
// cause a second trigger.
func (s *Scheduler) trigger(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.lastTrigger = now
	s.triggered = true
	s.triggers++
	if s.state == StatePolling {
		s.state = StateTriggering
	}
	s.mu.Unlock()

	go func() {
		defer s.setState(StateTriggering, StatePolling)
		if _, err := s.analyzer.AnalyzeAndNarrate(ctx); err != nil {
			if errors.Is(err, ErrBusy) || ctx.Err() != nil {
				return
			}
			s.log.Warn("analysis failed", "error", err)
		}
	}()
}

// replayLast keeps the user informed during the motion cooldown without spending a
// backend request.
func (s *Scheduler) replayLast(now time.Time, since time.Duration) {
	last, ok := s.analyzer.LastResult()
	if !ok || since <= s.cfg.ReplayInterval {
		return
	}
	if !s.replay.AllowN(now, 1) {
		return
	}
	text := narration.Conversational(last.Message)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.replays++
	s.mu.Unlock()
	s.narrate(text, narration.PriorityLow)
}

func (s *Scheduler) captureFailed(err error) {
	s.log.Warn("capture failed, stopping loop", "error", err)
	s.narrate(s.cfg.CaptureFailure, narration.PriorityHigh)
	s.halt(err)
}

// Trigger runs an analysis on demand, honouring the same latch as the poll loop.
func (s *Scheduler) Trigger(ctx context.Context) (analysis.Result, error) {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateWaiting {
		s.mu.Unlock()
		return analysis.Result{}, ErrNotRunning
	}
	s.mu.Unlock()

	if s.analyzer.InFlight() {
		return analysis.Result{}, ErrBusy
	}

	s.mu.Lock()
	s.lastTrigger = s.clock.Now()
	s.triggered = true
	s.triggers++
	s.mu.Unlock()

	return s.analyzer.AnalyzeAndNarrate(ctx)
}

func (s *Scheduler) narrate(text string, p narration.Priority) {
	if s.narrator != nil {
		s.narrator.Narrate(text, p)
	}
}

func (s *Scheduler) setState(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

func (s *Scheduler) started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Running() bool {
	return s.State() != StateIdle
}

func (s *Scheduler) Status() Status {
	inFlight := s.analyzer.InFlight()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		LastScore: s.lastScore,
		Triggers:  s.triggers,
		Replays:   s.replays,
		InFlight:  inFlight,
	}
	if s.state != StateIdle {
		st.StartedAt = s.startedAt
	}
	if s.triggered {
		st.LastTrigger = s.lastTrigger
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) Config() Config {
	return s.cfg
}
