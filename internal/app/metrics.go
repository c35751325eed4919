package app

import (
	"sync/atomic"
	"time"

	"github.com/dshills/regexlight/internal/match"
)

// Metrics tracks evaluation activity. It is safe for concurrent use.
type Metrics struct {
	// Search passes
	passCount   atomic.Uint64
	passTotalNs atomic.Int64
	passMinNs   atomic.Int64
	passMaxNs   atomic.Int64
	lastPassNs  atomic.Int64

	// Guard reports by kind
	limitReports     atomic.Uint64
	emptyReports     atomic.Uint64
	predicateReports atomic.Uint64
	failedReports    atomic.Uint64

	// Scheduled recomputations
	scheduledRuns atomic.Uint64

	// Configuration loads
	reloads atomic.Uint64

	startTime atomic.Int64
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.Reset()
	return m
}

// RecordPass records the duration of one search pass.
func (m *Metrics) RecordPass(duration time.Duration) {
	ns := duration.Nanoseconds()

	m.passCount.Add(1)
	m.passTotalNs.Add(ns)
	m.lastPassNs.Store(ns)

	for {
		old := m.passMinNs.Load()
		if ns >= old {
			break
		}
		if m.passMinNs.CompareAndSwap(old, ns) {
			break
		}
	}

	for {
		old := m.passMaxNs.Load()
		if ns <= old {
			break
		}
		if m.passMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordReport counts a guard report.
func (m *Metrics) RecordReport(kind match.ReportKind) {
	switch kind {
	case match.LimitExceeded:
		m.limitReports.Add(1)
	case match.EmptyMatch:
		m.emptyReports.Add(1)
	case match.PredicateFailed:
		m.predicateReports.Add(1)
	case match.MatchFailed:
		m.failedReports.Add(1)
	}
}

// RecordScheduledRun counts a debounced recomputation.
func (m *Metrics) RecordScheduledRun() {
	m.scheduledRuns.Add(1)
}

// RecordReload counts a configuration load.
func (m *Metrics) RecordReload() {
	m.reloads.Add(1)
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	passCount := m.passCount.Load()

	var avgPassNs int64
	if passCount > 0 {
		avgPassNs = m.passTotalNs.Load() / int64(passCount)
	}

	minPassNs := m.passMinNs.Load()
	if minPassNs == 1<<63-1 {
		minPassNs = 0
	}

	return MetricsSnapshot{
		Uptime:           time.Since(time.Unix(0, m.startTime.Load())),
		PassCount:        passCount,
		AvgPassNs:        avgPassNs,
		MinPassNs:        minPassNs,
		MaxPassNs:        m.passMaxNs.Load(),
		LastPassNs:       m.lastPassNs.Load(),
		LimitReports:     m.limitReports.Load(),
		EmptyReports:     m.emptyReports.Load(),
		PredicateReports: m.predicateReports.Load(),
		FailedReports:    m.failedReports.Load(),
		ScheduledRuns:    m.scheduledRuns.Load(),
		Reloads:          m.reloads.Load(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.passCount.Store(0)
	m.passTotalNs.Store(0)
	m.passMinNs.Store(1<<63 - 1)
	m.passMaxNs.Store(0)
	m.lastPassNs.Store(0)
	m.limitReports.Store(0)
	m.emptyReports.Store(0)
	m.predicateReports.Store(0)
	m.failedReports.Store(0)
	m.scheduledRuns.Store(0)
	m.reloads.Store(0)
	m.startTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime           time.Duration
	PassCount        uint64
	AvgPassNs        int64
	MinPassNs        int64
	MaxPassNs        int64
	LastPassNs       int64
	LimitReports     uint64
	EmptyReports     uint64
	PredicateReports uint64
	FailedReports    uint64
	ScheduledRuns    uint64
	Reloads          uint64
}

// Reports returns the total number of guard reports.
func (s MetricsSnapshot) Reports() uint64 {
	return s.LimitReports + s.EmptyReports + s.PredicateReports + s.FailedReports
}

// Timer provides a simple way to measure elapsed time.
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer.
func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
