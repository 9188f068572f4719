package pipeline

import (
	"sync/atomic"
	"time"
)

// Stats accumulates running counters for the process lifetime. It is an
// owned, explicitly-injected component: increments are atomic, snapshots
// are consistent enough for reporting, and Reset does not disturb
// in-progress runs.
type Stats struct {
	runs           atomic.Int64
	successes      atomic.Int64
	warnings       atomic.Int64
	failures       atomic.Int64
	fetchAttempts  atomic.Int64
	fetchSuccesses atomic.Int64
	fetchFailures  atomic.Int64
	latencyNanos   atomic.Int64
}

// NewStats creates a zeroed Stats
func NewStats() *Stats {
	return &Stats{}
}

// StatsSnapshot is a point-in-time copy of the counters
type StatsSnapshot struct {
	Runs              int64         `json:"runs"`
	Successes         int64         `json:"successes"`
	Warnings          int64         `json:"warnings"`
	Failures          int64         `json:"failures"`
	FetchAttempts     int64         `json:"fetch_attempts"`
	FetchSuccesses    int64         `json:"fetch_successes"`
	FetchFailures     int64         `json:"fetch_failures"`
	CumulativeLatency time.Duration `json:"cumulative_latency_ns"`
}

// RecordRun accumulates one completed run
func (s *Stats) RecordRun(status Status, elapsed time.Duration) {
	s.runs.Add(1)
	switch status {
	case StatusSuccess:
		s.successes.Add(1)
	case StatusWarning:
		s.warnings.Add(1)
	default:
		s.failures.Add(1)
	}
	s.latencyNanos.Add(int64(elapsed))
}

// RecordFetches accumulates the outcome counts of one bulk fetch
func (s *Stats) RecordFetches(attempted, succeeded, failed int) {
	s.fetchAttempts.Add(int64(attempted))
	s.fetchSuccesses.Add(int64(succeeded))
	s.fetchFailures.Add(int64(failed))
}

// Snapshot returns a copy of the current counters
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Runs:              s.runs.Load(),
		Successes:         s.successes.Load(),
		Warnings:          s.warnings.Load(),
		Failures:          s.failures.Load(),
		FetchAttempts:     s.fetchAttempts.Load(),
		FetchSuccesses:    s.fetchSuccesses.Load(),
		FetchFailures:     s.fetchFailures.Load(),
		CumulativeLatency: time.Duration(s.latencyNanos.Load()),
	}
}

// Reset zeroes all counters
func (s *Stats) Reset() {
	s.runs.Store(0)
	s.successes.Store(0)
	s.warnings.Store(0)
	s.failures.Store(0)
	s.fetchAttempts.Store(0)
	s.fetchSuccesses.Store(0)
	s.fetchFailures.Store(0)
	s.latencyNanos.Store(0)
}
