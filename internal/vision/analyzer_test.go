package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/narration"
	"github.com/eleven-am/vision-guide/internal/scheduler"
)

var lampResult = analysis.Result{
	Kind:       analysis.KindObjects,
	Severity:   analysis.SeveritySafe,
	Message:    "I see a lamp on a desk",
	Confidence: 0.9,
}

type staticSource struct {
	img image.Image
	err error
}

func (s staticSource) Dimensions(context.Context) (int, int, error) {
	return s.img.Bounds().Dx(), s.img.Bounds().Dy(), nil
}

func (s staticSource) Capture(context.Context) (image.Image, error) {
	return s.img, s.err
}

type reply struct {
	env analysis.Envelope
	err error
}

type scriptedGateway struct {
	mu       sync.Mutex
	replies  []reply
	calls    int
	payloads [][]byte
	gate     chan struct{}
}

func (g *scriptedGateway) Analyze(ctx context.Context, payload []byte) (analysis.Envelope, error) {
	g.mu.Lock()
	g.calls++
	g.payloads = append(g.payloads, payload)
	gate := g.gate
	var r reply
	if len(g.replies) > 0 {
		r = g.replies[0]
		if len(g.replies) > 1 {
			g.replies = g.replies[1:]
		}
	}
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return analysis.Envelope{}, ctx.Err()
		}
	}
	return r.env, r.err
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type line struct {
	text     string
	priority narration.Priority
}

type recordingNarrator struct {
	mu    sync.Mutex
	lines []line
}

func (n *recordingNarrator) Narrate(text string, p narration.Priority) {
	n.mu.Lock()
	n.lines = append(n.lines, line{text, p})
	n.mu.Unlock()
}

func (n *recordingNarrator) last() line {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.lines) == 0 {
		return line{}
	}
	return n.lines[len(n.lines)-1]
}

type analyzerHarness struct {
	a        *Analyzer
	gw       *scriptedGateway
	narrator *recordingNarrator
	clock    *clock.Mock
}

func newAnalyzerHarness(replies ...reply) *analyzerHarness {
	h := &analyzerHarness{
		gw:       &scriptedGateway{replies: replies},
		narrator: &recordingNarrator{},
		clock:    clock.NewMock(),
	}
	src := staticSource{img: testImage(640, 480, color.RGBA{B: 255, A: 255})}
	h.a = NewAnalyzer(DefaultAnalyzerConfig(), src, h.gw, h.narrator, h.clock, testLogger())
	h.a.Activate()
	return h
}

func fresh(r analysis.Result) reply {
	return reply{env: analysis.Fresh(r)}
}

func failure() reply {
	return reply{err: errors.New("connection refused")}
}

func TestAnalyzer_FreshResult(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult))

	got, err := h.a.AnalyzeAndNarrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != lampResult {
		t.Errorf("got %+v", got)
	}
	if last, ok := h.a.LastResult(); !ok || last != lampResult {
		t.Errorf("last known good = %+v, %v", last, ok)
	}
	want, p := narration.Guidance(lampResult)
	if l := h.narrator.last(); l.text != want || l.priority != p {
		t.Errorf("narrated %+v", l)
	}
	if h.a.InFlight() {
		t.Error("latch must be released")
	}

	h.gw.mu.Lock()
	payload := h.gw.payloads[0]
	h.gw.mu.Unlock()
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("upload is not an image: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("upload size = %v, want 320x240", img.Bounds())
	}
}

func TestAnalyzer_RejectsConcurrentCall(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult))
	h.gw.gate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.a.AnalyzeAndNarrate(context.Background())
	}()
	waitFor(t, h.a.InFlight)

	if _, err := h.a.AnalyzeAndNarrate(context.Background()); !errors.Is(err, scheduler.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if h.gw.callCount() != 1 {
		t.Errorf("rejected call reached the gateway")
	}

	close(h.gw.gate)
	<-done
}

func TestAnalyzer_FailureDecayIsMonotonic(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult), failure())
	if _, err := h.a.AnalyzeAndNarrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	prev := lampResult.Confidence
	for i := 0; i < 5; i++ {
		got, err := h.a.AnalyzeAndNarrate(context.Background())
		if err != nil {
			t.Fatalf("failure %d surfaced as error: %v", i, err)
		}
		if got.Confidence > prev+1e-9 {
			t.Errorf("failure %d: confidence rose from %v to %v", i, prev, got.Confidence)
		}
		if got.Confidence < 0.5-1e-9 {
			t.Errorf("failure %d: confidence %v below floor", i, got.Confidence)
		}
		if !strings.HasSuffix(got.Message, lampResult.Message) {
			t.Errorf("message should carry the last result: %q", got.Message)
		}
		prev = got.Confidence
	}
	if math.Abs(prev-0.5) > 1e-9 {
		t.Errorf("confidence should settle at the floor, got %v", prev)
	}
	if st := h.a.Stats(); st.ConsecutiveFailures != 5 {
		t.Errorf("consecutive failures = %d", st.ConsecutiveFailures)
	}
}

func TestAnalyzer_FailureWithoutHistory(t *testing.T) {
	h := newAnalyzerHarness(failure())

	got, err := h.a.AnalyzeAndNarrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != 0.6 || got.Severity != analysis.SeveritySafe {
		t.Errorf("conservative result = %+v", got)
	}
	if h.narrator.last().text != got.Message {
		t.Error("conservative message should be narrated")
	}
}

func TestAnalyzer_RateLimitedSchedulesOneRetry(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult), reply{env: analysis.RateLimited(14)}, fresh(lampResult))
	h.a.AnalyzeAndNarrate(context.Background())

	got, err := h.a.AnalyzeAndNarrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != analysis.MinConfidence {
		t.Errorf("rate limited result = %+v", got)
	}
	l := h.narrator.last()
	if l.priority != narration.PriorityMedium || !strings.Contains(l.text, "resuming in 14 seconds") {
		t.Errorf("narrated %+v", l)
	}
	if !strings.Contains(l.text, "I see a lamp on a desk") {
		t.Errorf("narration should reference the last result: %q", l.text)
	}
	if !h.a.RetryPending() {
		t.Fatal("a retry should be pending")
	}

	h.clock.Add(13 * time.Second)
	if h.gw.callCount() != 2 {
		t.Fatalf("retry fired early")
	}
	h.clock.Add(time.Second)
	waitFor(t, func() bool { return h.gw.callCount() == 3 })
	waitFor(t, func() bool { return !h.a.InFlight() })

	h.clock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if h.gw.callCount() != 3 {
		t.Errorf("calls = %d, want exactly one retry", h.gw.callCount())
	}
}

func TestAnalyzer_RetrySuppressedAfterDeactivate(t *testing.T) {
	h := newAnalyzerHarness(reply{env: analysis.RateLimited(5)})
	h.a.AnalyzeAndNarrate(context.Background())
	if !h.a.RetryPending() {
		t.Fatal("retry should be pending")
	}

	h.a.Deactivate()
	h.a.Activate()
	h.clock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if h.gw.callCount() != 1 {
		t.Errorf("stale retry fired: calls = %d", h.gw.callCount())
	}
}

func TestAnalyzer_Saturated(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult), reply{env: analysis.Saturated(func(int) int { return 0 }, 6)})
	h.a.AnalyzeAndNarrate(context.Background())

	got, err := h.a.AnalyzeAndNarrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}
	if got.Message != "The situation remains similar to before: "+lampResult.Message {
		t.Errorf("message = %q", got.Message)
	}
	if h.narrator.last().priority != narration.PriorityLow {
		t.Errorf("saturation narration should be low priority")
	}
	if !h.a.RetryPending() {
		t.Error("saturation should schedule a retry")
	}
}

func TestAnalyzer_SystemErrorIsNotRemembered(t *testing.T) {
	h := newAnalyzerHarness(reply{env: analysis.SystemFailure(func(int) int { return 0 }, errors.New("boom"))})

	got, err := h.a.AnalyzeAndNarrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Message != analysis.FallbackMessages()[0].Message {
		t.Errorf("got %+v", got)
	}
	if _, ok := h.a.LastResult(); ok {
		t.Error("a server fallback is not a last known good result")
	}
}

func TestAnalyzer_DeactivateDiscardsInFlight(t *testing.T) {
	h := newAnalyzerHarness(fresh(lampResult))
	h.gw.gate = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := h.a.AnalyzeAndNarrate(context.Background())
		errc <- err
	}()
	waitFor(t, h.a.InFlight)

	h.a.Deactivate()
	if h.a.InFlight() {
		t.Error("deactivate must clear the latch")
	}
	close(h.gw.gate)

	if err := <-errc; !errors.Is(err, ErrDeactivated) {
		t.Errorf("err = %v, want ErrDeactivated", err)
	}
	if _, ok := h.a.LastResult(); ok {
		t.Error("a discarded call must not update the last result")
	}
}

func TestAnalyzer_CaptureError(t *testing.T) {
	gw := &scriptedGateway{}
	a := NewAnalyzer(DefaultAnalyzerConfig(), staticSource{img: testImage(1, 1, color.RGBA{}), err: ErrNoFrame}, gw, nil, clock.NewMock(), testLogger())
	a.Activate()

	if _, err := a.AnalyzeAndNarrate(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
	if gw.callCount() != 0 {
		t.Error("no upload without a frame")
	}
	if a.InFlight() {
		t.Error("latch must be released after a capture error")
	}
}
