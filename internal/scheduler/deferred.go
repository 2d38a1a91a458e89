package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Deferred holds at most one pending task. Every Schedule or Cancel bumps a generation
// counter, so a timer that fired just before being replaced still cannot run its task.
type Deferred struct {
	clock clock.Clock

	mu    sync.Mutex
	gen   uint64
	timer *clock.Timer
}

func NewDeferred(clk clock.Clock) *Deferred {
	if clk == nil {
		clk = clock.New()
	}
	return &Deferred{clock: clk}
}

// Schedule replaces any pending task with fn, run once after d.
func (d *Deferred) Schedule(after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(after, func() {
		d.mu.Lock()
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

func (d *Deferred) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
}

func (d *Deferred) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Deferred) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
