// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlation maps timestamps to the energy sample that was current
// at that time.
package correlation

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/queue"
)

var (
	// ErrNoMeasurement is returned for timestamps that predate retention or
	// the oldest retained sample. Retrying will not help.
	ErrNoMeasurement = errors.New("no measurement found")

	// ErrMeasurementPending is returned for timestamps at or after the end of
	// the newest sample; the answer becomes available after the next tick.
	ErrMeasurementPending = errors.New("measurement not yet available")
)

// Sample is a register snapshot as produced by the sampler
type Sample struct {
	Registers device.Registers
	Timestamp time.Time
}

// TimedSnapshot is a retained sample with the number of package counter
// wraparounds observed up to and including it
type TimedSnapshot struct {
	Registers device.Registers `json:"registers"`
	Timestamp time.Time        `json:"timestamp"`
	Overflows uint32           `json:"overflows"`
}

// Result is one answer of a batch lookup
type Result struct {
	Snapshot TimedSnapshot
	Err      error
}

// Stats describes the state of the index
type Stats struct {
	Intervals  int
	Samples    uint64
	Overflows  uint32
	Evicted    uint64
	OutOfOrder uint64
	Misses     uint64
	Pending    uint64
	Oldest     time.Time
	Newest     time.Time
}

// interval maps [start, end) to one snapshot
type interval struct {
	start, end time.Time
	snapshot   TimedSnapshot
}

func (i interval) contains(t time.Time) bool {
	return !t.Before(i.start) && t.Before(i.end)
}

// Store is the interval index. Samples are pushed by the sampler onto the
// queue given to NewStore and folded into the index on every drain. All
// methods are safe for concurrent use.
type Store struct {
	logger       *slog.Logger
	clock        clock.PassiveClock
	interval     time.Duration
	maxSampleAge time.Duration

	samples    *queue.Queue[Sample]
	drainGroup singleflight.Group

	mu         sync.RWMutex
	index      []interval // ordered by start, disjoint
	prevPkg    uint64
	seenPkg    bool
	overflows  uint32
	total      uint64
	evicted    uint64
	outOfOrder uint64

	misses  atomic.Uint64
	pending atomic.Uint64
}

// NewStore creates a store fed by samples
func NewStore(samples *queue.Queue[Sample], applyOpts ...OptionFn) *Store {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Store{
		logger:       opts.logger.With("service", "correlation"),
		clock:        opts.clock,
		interval:     opts.interval,
		maxSampleAge: opts.maxSampleAge,
		samples:      samples,
	}
}

// RecordPendingSamples drains the sample queue into the index, counts
// package counter wraparounds and evicts intervals that ended before
// now - maxSampleAge. It returns the number of samples recorded.
// Concurrent callers share a single drain.
func (s *Store) RecordPendingSamples() int {
	n, _, _ := s.drainGroup.Do("drain", func() (any, error) {
		return s.recordPending(), nil
	})
	return n.(int)
}

func (s *Store) recordPending() int {
	pending := s.samples.Drain()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range pending {
		s.insert(sample)
	}
	s.evict(s.clock.Now().Add(-s.maxSampleAge))

	if len(pending) > 0 {
		s.logger.Debug("Recorded samples", "count", len(pending), "intervals", len(s.index))
	}
	return len(pending)
}

// insert adds one sample; caller holds mu
func (s *Store) insert(sample Sample) {
	s.total++

	var last *interval
	if n := len(s.index); n > 0 {
		last = &s.index[n-1]
	}
	// the sampler is the only producer and its clock only moves forward
	if last != nil && sample.Timestamp.Before(last.start) {
		s.outOfOrder++
		s.logger.Warn("Dropping out of order sample", "timestamp", sample.Timestamp, "newest", last.start)
		return
	}

	pkg := sample.Registers.Pkg()
	if s.seenPkg && pkg < s.prevPkg {
		s.overflows++
	}
	s.prevPkg = pkg
	s.seenPkg = true

	entry := interval{
		start: sample.Timestamp,
		end:   sample.Timestamp.Add(s.interval),
		snapshot: TimedSnapshot{
			Registers: sample.Registers,
			Timestamp: sample.Timestamp,
			Overflows: s.overflows,
		},
	}

	switch {
	case last == nil:
		s.index = append(s.index, entry)
		return

	case entry.start.Equal(last.start):
		*last = entry
		return
	}

	// consecutive intervals always touch: an overlap truncates the
	// predecessor and a gap left by read latency extends it
	last.end = entry.start
	s.index = append(s.index, entry)
}

// evict drops every interval whose end lies before cutoff; caller holds mu
func (s *Store) evict(cutoff time.Time) {
	keep := sort.Search(len(s.index), func(i int) bool {
		return !s.index[i].end.Before(cutoff)
	})
	if keep == 0 {
		return
	}

	s.evicted += uint64(keep)
	remaining := copy(s.index, s.index[keep:])
	clear(s.index[remaining:])
	s.index = s.index[:remaining]
}

// Lookup returns the snapshot whose interval contains t
func (s *Store) Lookup(t time.Time) (TimedSnapshot, error) {
	s.RecordPendingSamples()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(t, s.clock.Now())
}

// LookupBatch resolves every timestamp against the same index; results are
// in input order
func (s *Store) LookupBatch(ts []time.Time) []Result {
	s.RecordPendingSamples()

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	results := make([]Result, len(ts))
	for i, t := range ts {
		snap, err := s.find(t, now)
		results[i] = Result{Snapshot: snap, Err: err}
	}
	return results
}

// find locates t in the index; caller holds mu for reading
func (s *Store) find(t, now time.Time) (TimedSnapshot, error) {
	n := len(s.index)
	if n == 0 || !t.Before(s.index[n-1].end) {
		if n == 0 && t.Before(now.Add(-s.maxSampleAge)) {
			s.misses.Add(1)
			return TimedSnapshot{}, ErrNoMeasurement
		}
		s.pending.Add(1)
		return TimedSnapshot{}, ErrMeasurementPending
	}

	// last interval starting at or before t
	i := sort.Search(n, func(i int) bool {
		return s.index[i].start.After(t)
	}) - 1
	if i < 0 || !s.index[i].contains(t) {
		s.misses.Add(1)
		return TimedSnapshot{}, ErrNoMeasurement
	}
	return s.index[i].snapshot, nil
}

func (s *Store) Name() string {
	return "correlation"
}

// IsReady reports whether at least one sample has been indexed
func (s *Store) IsReady() bool {
	_, ok := s.Latest()
	return ok
}

// Latest returns the newest retained snapshot
func (s *Store) Latest() (TimedSnapshot, bool) {
	s.RecordPendingSamples()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.index) == 0 {
		return TimedSnapshot{}, false
	}
	return s.index[len(s.index)-1].snapshot, true
}

// Interval returns the width of the interval covered by each sample
func (s *Store) Interval() time.Duration {
	return s.interval
}

// Stats returns counters describing the index
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Intervals:  len(s.index),
		Samples:    s.total,
		Overflows:  s.overflows,
		Evicted:    s.evicted,
		OutOfOrder: s.outOfOrder,
		Misses:     s.misses.Load(),
		Pending:    s.pending.Load(),
	}
	if n := len(s.index); n > 0 {
		st.Oldest = s.index[0].start
		st.Newest = s.index[n-1].start
	}
	return st
}
