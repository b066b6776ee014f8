package util

import (
	"sync"
	"time"
)

// Debouncer fires once after a quiet period that starts at the last Reset.
// A new Debouncer is idle: nothing is delivered on C until the first Reset.
//
// Example usage:
//
//	d := NewDebouncer(800 * time.Millisecond)
//	defer d.Stop()
//
//	for {
//	    select {
//	    case fragment := <-fragments:
//	        buffer(fragment)
//	        d.Reset()
//	    case <-d.C():
//	        flush()
//	    }
//	}
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	stopped  bool
}

// NewDebouncer creates an idle debouncer with the given quiet period.
func NewDebouncer(duration time.Duration) *Debouncer {
	d := &Debouncer{
		duration: duration,
		timer:    time.NewTimer(duration),
	}
	d.disarm()
	return d
}

// Reset (re)arms the timer. After Stop it is a no-op.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.disarm()
	d.timer.Reset(d.duration)
}

// Cancel disarms a pending fire without stopping the debouncer.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarm()
}

func (d *Debouncer) disarm() {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
}

// C returns the timer's channel.
func (d *Debouncer) C() <-chan time.Time {
	return d.timer.C
}

// Stop disarms the debouncer for good. It's safe to call Stop multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.timer.Stop()
		d.stopped = true
	}
}
