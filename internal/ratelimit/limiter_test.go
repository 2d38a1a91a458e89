package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxPerWindow != 3 {
		t.Errorf("MaxPerWindow = %d, want 3", cfg.MaxPerWindow)
	}
	if cfg.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", cfg.Window)
	}
	if cfg.MinSpacing != 15*time.Second {
		t.Errorf("MinSpacing = %v, want 15s", cfg.MinSpacing)
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	l := New(Config{}, nil)
	if l.Config().MaxPerWindow != 3 || l.Config().Window != time.Minute {
		t.Errorf("unexpected config %+v", l.Config())
	}
	if l.clock == nil {
		t.Error("clock should default to the wall clock")
	}
}

func TestLimiter_SpacingCheckedBeforeCount(t *testing.T) {
	mock := clock.NewMock()
	l := New(Config{MaxPerWindow: 3, Window: 60 * time.Second, MinSpacing: 15 * time.Second}, mock)

	type step struct {
		at       time.Duration
		allowed  bool
		reason   Reason
		waitSecs int
	}
	steps := []step{
		{at: 0, allowed: true},
		{at: time.Second, reason: ReasonSpacing, waitSecs: 14},
		{at: 2 * time.Second, reason: ReasonSpacing, waitSecs: 13},
		{at: 3 * time.Second, reason: ReasonSpacing, waitSecs: 12},
	}

	start := mock.Now()
	for _, s := range steps {
		mock.Set(start.Add(s.at))
		d := l.Allow("client-a")
		if d.Allowed != s.allowed {
			t.Fatalf("t=%v allowed = %v, want %v", s.at, d.Allowed, s.allowed)
		}
		if d.Reason != s.reason {
			t.Errorf("t=%v reason = %q, want %q", s.at, d.Reason, s.reason)
		}
		if d.WaitSeconds != s.waitSecs {
			t.Errorf("t=%v wait = %d, want %d", s.at, d.WaitSeconds, s.waitSecs)
		}
	}
}

func TestLimiter_WindowCount(t *testing.T) {
	mock := clock.NewMock()
	l := New(Config{MaxPerWindow: 3, Window: 60 * time.Second, MinSpacing: 15 * time.Second}, mock)
	start := mock.Now()

	for i, at := range []time.Duration{0, 15 * time.Second, 30 * time.Second} {
		mock.Set(start.Add(at))
		if d := l.Allow("c"); !d.Allowed {
			t.Fatalf("request %d at %v should be allowed, got %+v", i, at, d)
		}
	}

	mock.Set(start.Add(45 * time.Second))
	d := l.Allow("c")
	if d.Allowed {
		t.Fatal("fourth request within the window should be denied")
	}
	if d.Reason != ReasonWindow {
		t.Errorf("reason = %q, want window", d.Reason)
	}
	if d.WaitSeconds != 15 {
		t.Errorf("wait = %d, want 15", d.WaitSeconds)
	}

	mock.Set(start.Add(61 * time.Second))
	if d := l.Allow("c"); !d.Allowed {
		t.Fatalf("request after window expiry should be allowed, got %+v", d)
	}
}

func TestLimiter_WaitRoundsUp(t *testing.T) {
	mock := clock.NewMock()
	l := New(Config{MaxPerWindow: 10, Window: time.Minute, MinSpacing: 15 * time.Second}, mock)
	start := mock.Now()

	l.Allow("c")
	mock.Set(start.Add(1500 * time.Millisecond))
	d := l.Allow("c")
	if d.Wait != 13500*time.Millisecond {
		t.Errorf("wait = %v, want 13.5s", d.Wait)
	}
	if d.WaitSeconds != 14 {
		t.Errorf("wait seconds = %d, want 14", d.WaitSeconds)
	}
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	mock := clock.NewMock()
	l := New(DefaultConfig(), mock)

	if !l.Allow("a").Allowed {
		t.Fatal("a should be allowed")
	}
	if !l.Allow("b").Allowed {
		t.Fatal("b should be allowed")
	}
	if l.Allow("a").Allowed {
		t.Fatal("a should be spaced")
	}
	if l.Clients() != 2 {
		t.Errorf("Clients = %d, want 2", l.Clients())
	}
}

func TestLimiter_AdmittedRequestsRespectBothRules(t *testing.T) {
	mock := clock.NewMock()
	cfg := Config{MaxPerWindow: 3, Window: 60 * time.Second, MinSpacing: 15 * time.Second}
	l := New(cfg, mock)
	start := mock.Now()

	var admitted []time.Time
	for i := 0; i < 60; i++ {
		mock.Set(start.Add(time.Duration(i) * time.Second))
		if l.Allow("c").Allowed {
			admitted = append(admitted, mock.Now())
		}
	}

	if len(admitted) > cfg.MaxPerWindow {
		t.Errorf("admitted %d requests in one window, max %d", len(admitted), cfg.MaxPerWindow)
	}
	for i := 1; i < len(admitted); i++ {
		if gap := admitted[i].Sub(admitted[i-1]); gap < cfg.MinSpacing {
			t.Errorf("admitted requests %d and %d only %v apart", i-1, i, gap)
		}
	}
}
