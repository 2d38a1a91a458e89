package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/narration"
	"github.com/eleven-am/vision-guide/internal/scheduler"
)

// ErrDeactivated is returned by a call that was still running when the capture loop
// stopped. Its result is discarded.
var ErrDeactivated = errors.New("analyzer deactivated")

// Gateway is the analysis endpoint as the client sees it.
type Gateway interface {
	Analyze(ctx context.Context, payload []byte) (analysis.Envelope, error)
}

type AnalyzerConfig struct {
	UploadMaxDimension int
	UploadQuality      int

	FailureDecrement   float64
	FailureFloor       float64
	SaturatedDecrement float64
	SaturatedFloor     float64
	ConservativeScore  float64

	DefaultRetry time.Duration
	RetryTimeout time.Duration
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		UploadMaxDimension: DefaultUploadMaxDimension,
		UploadQuality:      DefaultUploadQuality,
		FailureDecrement:   0.2,
		FailureFloor:       0.5,
		SaturatedDecrement: 0.1,
		SaturatedFloor:     0.6,
		ConservativeScore:  0.6,
		DefaultRetry:       15 * time.Second,
		RetryTimeout:       60 * time.Second,
	}
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	d := DefaultAnalyzerConfig()
	if c.UploadMaxDimension <= 0 {
		c.UploadMaxDimension = d.UploadMaxDimension
	}
	if c.UploadQuality <= 0 {
		c.UploadQuality = d.UploadQuality
	}
	if c.FailureDecrement <= 0 {
		c.FailureDecrement = d.FailureDecrement
	}
	if c.FailureFloor <= 0 {
		c.FailureFloor = d.FailureFloor
	}
	if c.SaturatedDecrement <= 0 {
		c.SaturatedDecrement = d.SaturatedDecrement
	}
	if c.SaturatedFloor <= 0 {
		c.SaturatedFloor = d.SaturatedFloor
	}
	if c.ConservativeScore <= 0 {
		c.ConservativeScore = d.ConservativeScore
	}
	if c.DefaultRetry <= 0 {
		c.DefaultRetry = d.DefaultRetry
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = d.RetryTimeout
	}
	return c
}

type AnalyzerStats struct {
	Calls               int              `json:"calls"`
	Fresh               int              `json:"fresh"`
	Cached              int              `json:"cached"`
	Throttled           int              `json:"throttled"`
	Failures            int              `json:"failures"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	InFlight            bool             `json:"inFlight"`
	RetryPending        bool             `json:"retryPending"`
	Last                *analysis.Result `json:"last,omitempty"`
}

// Analyzer uploads the current frame to the gateway and narrates what comes back. It
// owns the in-flight latch shared with the capture loop and never surfaces a gateway
// failure as an error: failures degrade to the last known good result.
type Analyzer struct {
	cfg      AnalyzerConfig
	source   scheduler.FrameSource
	gateway  Gateway
	narrator narration.Narrator
	clock    clock.Clock
	logger   *slog.Logger
	retry    *scheduler.Deferred

	mu       sync.Mutex
	gen      uint64
	active   bool
	inFlight bool
	last     analysis.Result
	hasLast  bool
	failures int
	stats    AnalyzerStats
}

func NewAnalyzer(cfg AnalyzerConfig, source scheduler.FrameSource, gw Gateway, narrator narration.Narrator, clk clock.Clock, logger *slog.Logger) *Analyzer {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		cfg:      cfg.withDefaults(),
		source:   source,
		gateway:  gw,
		narrator: narrator,
		clock:    clk,
		logger:   logger.With("component", "vision-analyzer"),
		retry:    scheduler.NewDeferred(clk),
	}
}

func (a *Analyzer) AnalyzeAndNarrate(ctx context.Context) (analysis.Result, error) {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return analysis.Result{}, scheduler.ErrBusy
	}
	a.inFlight = true
	a.stats.Calls++
	gen := a.gen
	a.mu.Unlock()
	defer a.release(gen)

	img, err := a.source.Capture(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("capture frame: %w", err)
	}
	payload, err := EncodeUpload(img, a.cfg.UploadMaxDimension, a.cfg.UploadQuality)
	if err != nil {
		return analysis.Result{}, err
	}

	env, err := a.gateway.Analyze(ctx, payload)
	if !a.current(gen) {
		return analysis.Result{}, ErrDeactivated
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return analysis.Result{}, ctxErr
		}
		a.logger.Warn("gateway call failed", "error", err)
		return a.degraded(), nil
	}

	if env.Throttled() {
		return a.throttled(env, gen), nil
	}
	return a.accepted(env), nil
}

// accepted handles every envelope that carries a result of its own: fresh, cached or a
// server-side fallback.
func (a *Analyzer) accepted(env analysis.Envelope) analysis.Result {
	r := env.Result

	a.mu.Lock()
	switch {
	case env.SystemError:
		a.stats.Failures++
	case env.FromCache:
		a.stats.Cached++
	default:
		a.stats.Fresh++
	}
	if !env.SystemError {
		a.last, a.hasLast = r, true
		a.failures = 0
	}
	a.mu.Unlock()

	text, p := narration.Guidance(r)
	a.narrate(text, p)
	return r
}

// degraded re-issues the last known good result with confidence lowered by one step
// per consecutive failure, floored.
func (a *Analyzer) degraded() analysis.Result {
	a.mu.Lock()
	a.failures++
	a.stats.Failures++
	failures, last, hasLast := a.failures, a.last, a.hasLast
	a.mu.Unlock()

	if !hasLast {
		r := analysis.Result{
			Kind:       analysis.KindGeneral,
			Severity:   analysis.SeveritySafe,
			Message:    "Conservative mode. Walk carefully while the system recovers.",
			Confidence: a.cfg.ConservativeScore,
		}
		a.narrate(r.Message, narration.PriorityLow)
		return r
	}

	r := last
	r.Message = "Staying alert based on the previous analysis: " + last.Message
	r.Confidence = math.Max(a.cfg.FailureFloor, last.Confidence-a.cfg.FailureDecrement*float64(failures))
	a.narrate(r.Message, narration.PriorityLow)
	return r
}

func (a *Analyzer) throttled(env analysis.Envelope, gen uint64) analysis.Result {
	wait := env.Wait(a.cfg.DefaultRetry)
	secs := int(math.Ceil(wait.Seconds()))

	a.mu.Lock()
	a.stats.Throttled++
	last, hasLast := a.last, a.hasLast
	a.mu.Unlock()

	var r analysis.Result
	switch {
	case env.RateLimited:
		r = analysis.Result{
			Kind:       analysis.KindGeneral,
			Severity:   analysis.SeveritySafe,
			Message:    env.Message,
			Confidence: analysis.MinConfidence,
		}
		if r.Message == "" {
			r.Message = "System paused for a moment."
		}
		if hasLast {
			a.narrate(fmt.Sprintf("Based on the previous analysis: %s. System resuming in %d seconds.",
				trimSentence(last.Message), secs), narration.PriorityMedium)
		} else {
			a.narrate(r.Message, narration.PriorityMedium)
		}
	case hasLast:
		r = last
		r.Message = "The situation remains similar to before: " + last.Message
		r.Confidence = math.Max(a.cfg.SaturatedFloor, last.Confidence-a.cfg.SaturatedDecrement)
		a.narrate(r.Message, narration.PriorityLow)
	default:
		r = env.Result
		a.narrate(r.Message, narration.PriorityLow)
	}

	a.scheduleRetry(wait, gen)
	return r
}

// scheduleRetry arms the single pending retry. It only runs if the loop that asked for
// it is still the active one when the timer fires.
func (a *Analyzer) scheduleRetry(wait time.Duration, gen uint64) {
	a.logger.Debug("retry scheduled", "wait", wait)
	a.retry.Schedule(wait, func() {
		if !a.current(gen) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RetryTimeout)
		defer cancel()
		if _, err := a.AnalyzeAndNarrate(ctx); err != nil && !errors.Is(err, scheduler.ErrBusy) {
			a.logger.Debug("retry failed", "error", err)
		}
	})
}

func (a *Analyzer) narrate(text string, p narration.Priority) {
	if a.narrator != nil && text != "" {
		a.narrator.Narrate(text, p)
	}
}

func (a *Analyzer) release(gen uint64) {
	a.mu.Lock()
	if a.gen == gen {
		a.inFlight = false
	}
	a.mu.Unlock()
}

func (a *Analyzer) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active && a.gen == gen
}

func (a *Analyzer) Activate() {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
}

// Deactivate drops any pending retry and releases the latch. A call still in flight
// finishes against a stale generation and discards its result.
func (a *Analyzer) Deactivate() {
	a.retry.Cancel()
	a.mu.Lock()
	a.active = false
	a.gen++
	a.inFlight = false
	a.mu.Unlock()
}

func (a *Analyzer) InFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

func (a *Analyzer) LastResult() (analysis.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.hasLast
}

func (a *Analyzer) RetryPending() bool {
	return a.retry.Pending()
}

// Reset forgets the last known good result.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.last, a.hasLast = analysis.Result{}, false
	a.failures = 0
	a.mu.Unlock()
}

func (a *Analyzer) Stats() AnalyzerStats {
	pending := a.retry.Pending()
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats
	st.ConsecutiveFailures = a.failures
	st.InFlight = a.inFlight
	st.RetryPending = pending
	if a.hasLast {
		last := a.last
		st.Last = &last
	}
	return st
}

func trimSentence(s string) string {
	for len(s) > 0 {
		switch s[len(s)-1] {
		case '.', '!', '?', ' ':
			s = s[:len(s)-1]
		default:
			return s
		}
	}
	return s
}
