package narration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityLow, fmt.Errorf("unknown narration priority %q", s)
}

// Line is one utterance handed to a Speaker.
type Line struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Priority Priority  `json:"priority"`
	At       time.Time `json:"at"`
}

// Speaker voices a line. Speak blocks until the line has been spoken or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, line Line) error
}

// Narrator is the fire-and-forget surface the capture loop talks to.
type Narrator interface {
	Narrate(text string, priority Priority)
}

// Queue serialises lines onto a Speaker. A high priority line preempts whatever is being
// spoken and drops everything still waiting.
type Queue struct {
	speaker Speaker
	clock   clock.Clock
	log     *slog.Logger

	mu      sync.Mutex
	queue   []Line
	ctx     context.Context
	cancel  context.CancelFunc
	playing bool
	closed  bool
	last    Line
	onLine  func(Line)
}

func NewQueue(speaker Speaker, clk clock.Clock, log *slog.Logger) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		speaker: speaker,
		clock:   clk,
		log:     log.With("component", "narration-queue"),
		queue:   make([]Line, 0),
	}
}

// OnLine registers a hook called for every accepted line, before it is spoken.
func (q *Queue) OnLine(fn func(Line)) {
	q.mu.Lock()
	q.onLine = fn
	q.mu.Unlock()
}

func (q *Queue) Narrate(text string, priority Priority) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := Line{
		ID:       uuid.NewString(),
		Text:     text,
		Priority: priority,
		At:       q.clock.Now(),
	}

	if priority == PriorityHigh {
		q.Clear()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	idle := len(q.queue) == 0 && !q.playing
	q.queue = append(q.queue, line)
	q.last = line
	if idle {
		q.ctx, q.cancel = context.WithCancel(context.Background())
		q.playing = true
	}
	ctx := q.ctx
	onLine := q.onLine
	q.mu.Unlock()

	if onLine != nil {
		onLine(line)
	}
	q.log.Debug("narration queued", "priority", priority.String(), "text", text)

	if idle {
		go q.process(ctx)
	}
}

func (q *Queue) process(ctx context.Context) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil {
			q.mu.Unlock()
			return
		}
		if len(q.queue) == 0 {
			q.playing = false
			q.mu.Unlock()
			return
		}
		line := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		if err := q.speaker.Speak(ctx, line); err != nil && ctx.Err() == nil {
			q.log.Warn("narration failed", "error", err, "line_id", line.ID)
		}
	}
}

// Clear stops the line being spoken and discards pending ones.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.queue = nil
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.ctx = nil
	q.playing = false
	q.mu.Unlock()
}

func (q *Queue) Close() {
	q.Clear()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.queue) > 0
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Last returns the most recently accepted line.
func (q *Queue) Last() (Line, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last, q.last.ID != ""
}
