package schedule

import (
	"sync"
	"time"
)

// Debouncer groups rapid successive calls into a single call after a quiet
// period.
//
// Thread-safety: All methods are safe for concurrent use. Callbacks are run
// on timer goroutines; a callback is never run twice for the same Call.
type Debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64 // sequence number to detect stale callbacks
	callback func()
}

// NewDebouncer creates a debouncer with the specified delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Call schedules fn to run after the delay, replacing any pending callback.
// Only the last of several calls made within the delay runs.
func (d *Debouncer) Call(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.callback = fn
	d.seq++
	currentSeq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// Only execute if this is still the current scheduled callback
		if d.pending && d.seq == currentSeq && d.callback != nil {
			fn := d.callback
			d.pending = false
			d.callback = nil
			d.mu.Unlock()
			fn()
		} else {
			d.mu.Unlock()
		}
	})
}

// CallImmediate runs the pending callback now, canceling the scheduled run.
// It reports whether a callback ran.
func (d *Debouncer) CallImmediate() bool {
	d.mu.Lock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++

	if d.pending && d.callback != nil {
		fn := d.callback
		d.pending = false
		d.callback = nil
		d.mu.Unlock()
		fn()
		return true
	}
	d.mu.Unlock()
	return false
}

// Cancel drops the pending callback. It reports whether one was pending.
// A callback already running is not interrupted.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	was := d.pending
	d.pending = false
	d.callback = nil
	return was
}

// IsPending returns true if a callback is scheduled.
func (d *Debouncer) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// SetDelay changes the delay for subsequent calls.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}
