package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDeferred_RunsOnce(t *testing.T) {
	mock := clock.NewMock()
	d := NewDeferred(mock)
	var runs atomic.Int32

	d.Schedule(15*time.Second, func() { runs.Add(1) })
	if !d.Pending() {
		t.Fatal("task should be pending")
	}

	mock.Add(14 * time.Second)
	if runs.Load() != 0 {
		t.Fatal("task ran early")
	}
	mock.Add(time.Second)
	waitFor(t, func() bool { return runs.Load() == 1 })

	mock.Add(time.Minute)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if d.Pending() {
		t.Error("nothing should be pending after the task ran")
	}
}

func TestDeferred_CancelSuppresses(t *testing.T) {
	mock := clock.NewMock()
	d := NewDeferred(mock)
	var runs atomic.Int32

	d.Schedule(time.Second, func() { runs.Add(1) })
	d.Cancel()
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if runs.Load() != 0 {
		t.Errorf("cancelled task ran %d times", runs.Load())
	}
}

func TestDeferred_RescheduleReplaces(t *testing.T) {
	mock := clock.NewMock()
	d := NewDeferred(mock)
	var first, second atomic.Int32

	d.Schedule(time.Second, func() { first.Add(1) })
	d.Schedule(3*time.Second, func() { second.Add(1) })

	mock.Add(5 * time.Second)
	waitFor(t, func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Error("replaced task must not run")
	}
}
