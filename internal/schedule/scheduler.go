// Package schedule debounces recomputation per document.
//
// A trigger for a key starts a quiet period. A new trigger for the same key
// within the period cancels the pending run and starts over, so a burst of
// edits causes one recomputation.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// DefaultDelay is the quiet period used when none is configured.
const DefaultDelay = 100 * time.Millisecond

// Scheduler runs at most one pending callback per key.
// It is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	keys    map[string]*Debouncer
	stopped bool
}

// New creates a scheduler. A non-positive delay selects DefaultDelay.
func New(delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		delay: delay,
		keys:  make(map[string]*Debouncer),
	}
}

// Delay returns the quiet period.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// SetDelay changes the quiet period for subsequent triggers.
func (s *Scheduler) SetDelay(delay time.Duration) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
	for _, d := range s.keys {
		d.SetDelay(delay)
	}
}

// Trigger schedules fn to run for key after the quiet period, replacing any
// callback pending for key. Triggers after Stop are ignored.
func (s *Scheduler) Trigger(key string, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	d, ok := s.keys[key]
	if !ok {
		d = NewDebouncer(s.delay)
		s.keys[key] = d
	}
	s.mu.Unlock()

	d.Call(fn)
}

// Cancel drops the callback pending for key and forgets the key. It reports
// whether a callback was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	d, ok := s.keys[key]
	delete(s.keys, key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	return d.Cancel()
}

// Flush runs the callback pending for key immediately, on the calling
// goroutine. It reports whether one ran.
func (s *Scheduler) Flush(key string) bool {
	s.mu.Lock()
	d, ok := s.keys[key]
	s.mu.Unlock()

	if !ok {
		return false
	}
	return d.CallImmediate()
}

// Pending reports whether a callback is scheduled for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	d, ok := s.keys[key]
	s.mu.Unlock()
	return ok && d.IsPending()
}

// PendingKeys returns the keys with a scheduled callback, sorted.
func (s *Scheduler) PendingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, d := range s.keys {
		if d.IsPending() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// CancelAll drops every pending callback.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	keys := s.keys
	s.keys = make(map[string]*Debouncer)
	s.mu.Unlock()

	for _, d := range keys {
		d.Cancel()
	}
}

// Stop cancels every pending callback and ignores later triggers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.CancelAll()
}
