package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

var (
	ErrSaturated = errors.New("analysis queue saturated")
	ErrTimeout   = errors.New("analysis timed out")
	ErrClosed    = errors.New("analysis queue closed")
)

// Backend is the external inference call the queue serializes.
type Backend interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error)
}

type BackendFunc func(ctx context.Context, req analysis.Request) (analysis.Result, error)

func (f BackendFunc) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	return f(ctx, req)
}

type Config struct {
	SaturationThreshold int
	Pacing              time.Duration
	Timeout             time.Duration
}

func DefaultConfig() Config {
	return Config{
		SaturationThreshold: 5,
		Pacing:              3 * time.Second,
		Timeout:             30 * time.Second,
	}
}

type outcome struct {
	result analysis.Result
	err    error
}

type item struct {
	req  analysis.Request
	ctx  context.Context
	done chan outcome
}

func (it *item) abandoned() bool {
	return it.ctx.Err() != nil
}

// Queue is a bounded FIFO drained by at most one worker goroutine, so at most one backend
// call is active at any moment. Consecutive calls are separated by the pacing interval.
type Queue struct {
	backend Backend
	cfg     Config
	clock   clock.Clock
	log     *slog.Logger

	mu           sync.Mutex
	items        []*item
	running      bool
	inFlight     bool
	closed       bool
	lastFinished time.Time
	called       bool

	closeCh chan struct{}
}

func New(backend Backend, cfg Config, clk clock.Clock, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultConfig()
	if cfg.SaturationThreshold < 0 {
		cfg.SaturationThreshold = def.SaturationThreshold
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Queue{
		backend: backend,
		cfg:     cfg,
		clock:   clk,
		log:     log.With("component", "analysis_queue"),
		items:   make([]*item, 0),
		closeCh: make(chan struct{}),
	}
}

// Submit enqueues req and blocks until the worker resolves it, ctx ends, or the queue
// closes. It returns ErrSaturated without enqueueing when the queue is already deeper
// than the saturation threshold.
func (q *Queue) Submit(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	it := &item{req: req, ctx: ctx, done: make(chan outcome, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return analysis.Result{}, ErrClosed
	}
	if len(q.items) > q.cfg.SaturationThreshold {
		depth := len(q.items)
		q.mu.Unlock()
		q.log.Debug("queue saturated", "depth", depth, "client_id", req.ClientID)
		return analysis.Result{}, ErrSaturated
	}
	q.items = append(q.items, it)
	q.ensureRunningLocked()
	q.mu.Unlock()

	select {
	case out := <-it.done:
		return out.result, out.err
	case <-ctx.Done():
		return analysis.Result{}, ctx.Err()
	}
}

func (q *Queue) ensureRunningLocked() {
	if q.running {
		return
	}
	q.running = true
	go q.run()
}

func (q *Queue) run() {
	for {
		if !q.waitForPacing() {
			return
		}

		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if it.abandoned() {
			q.mu.Unlock()
			q.log.Debug("skipping abandoned request", "request_id", it.req.ID)
			continue
		}
		q.inFlight = true
		q.mu.Unlock()

		out := q.call(it)
		it.done <- out

		q.mu.Lock()
		q.inFlight = false
		q.called = true
		q.lastFinished = q.clock.Now()
		q.mu.Unlock()
	}
}

// waitForPacing blocks until the pacing interval since the last backend call has
// elapsed. It returns false when the queue closes while waiting.
func (q *Queue) waitForPacing() bool {
	q.mu.Lock()
	var wait time.Duration
	if q.called {
		wait = q.cfg.Pacing - q.clock.Since(q.lastFinished)
	}
	q.mu.Unlock()

	if wait <= 0 {
		return true
	}

	timer := q.clock.Timer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.closeCh:
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		return false
	}
}

func (q *Queue) call(it *item) outcome {
	callCtx, cancel := context.WithCancel(it.ctx)
	defer cancel()

	results := make(chan outcome, 1)
	go func() {
		res, err := q.backend.Analyze(callCtx, it.req)
		results <- outcome{result: res, err: err}
	}()

	timer := q.clock.Timer(q.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-results:
		if out.err != nil {
			q.log.Warn("backend call failed", "request_id", it.req.ID, "error", out.err)
		}
		return out
	case <-timer.C:
		q.log.Warn("backend call timed out", "request_id", it.req.ID, "timeout", q.cfg.Timeout)
		return outcome{err: fmt.Errorf("%w after %s", ErrTimeout, q.cfg.Timeout)}
	case <-q.closeCh:
		return outcome{err: ErrClosed}
	}
}

// Close stops the worker and fails every queued request with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	close(q.closeCh)
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- outcome{err: ErrClosed}
	}
}

// Depth is the number of requests waiting for the worker, excluding the one in flight.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Config() Config {
	return q.cfg
}
