// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/queue"
	"github.com/sustainable-computing-io/thor/internal/service"
)

// ErrNotInitialized is returned by Run when Init has not succeeded
var ErrNotInitialized = errors.New("sampler not initialized")

// SnapshotReader reads full register snapshots; implemented by
// device.HardwareContext
type SnapshotReader interface {
	Init() error
	ReadSnapshot() (device.Registers, error)
}

type state int32

const (
	uninitialized state = iota
	initialized
	running
	stopped
)

// Sampler reads every configured energy counter at a fixed interval and
// pushes timestamped snapshots onto the sample queue
type Sampler struct {
	logger   *slog.Logger
	hw       SnapshotReader
	clock    clock.WithTicker
	interval time.Duration
	samples  *queue.Queue[correlation.Sample]

	state      atomic.Int32
	count      atomic.Uint64
	lastSample atomic.Int64 // unix nanos
}

var (
	_ service.Initializer = (*Sampler)(nil)
	_ service.Runner      = (*Sampler)(nil)
	_ service.LiveChecker = (*Sampler)(nil)
)

// minStaleness bounds how quickly a sampler with a very short interval is
// reported as stalled
const minStaleness = time.Second

// NewSampler creates a sampler publishing onto samples
func NewSampler(hw SnapshotReader, samples *queue.Queue[correlation.Sample], applyOpts ...OptionFn) *Sampler {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Sampler{
		logger:   opts.logger.With("service", "sampler"),
		hw:       hw,
		clock:    opts.clock,
		interval: opts.interval,
		samples:  samples,
	}
}

func (s *Sampler) Name() string {
	return "sampler"
}

// Init performs the one time platform setup and takes a probe reading so
// that a misconfigured host fails at startup rather than in Run
func (s *Sampler) Init() error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid sampling interval %s", s.interval)
	}
	if err := s.hw.Init(); err != nil {
		return err
	}
	if _, err := s.hw.ReadSnapshot(); err != nil {
		return fmt.Errorf("initial register read failed: %w", err)
	}

	s.state.Store(int32(initialized))
	s.logger.Info("Sampler initialized", "interval", s.interval)
	return nil
}

// Run samples until ctx is cancelled. A failed register read stops the
// sampler and is returned; there is no skip mode since downstream
// correlation assumes uninterrupted coverage.
func (s *Sampler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(initialized), int32(running)) {
		return ErrNotInitialized
	}
	defer s.state.Store(int32(stopped))

	// the sampling loop owns its thread for the lifetime of the daemon
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.logger.Info("Sampler is running...")
	if err := s.sample(); err != nil {
		return err
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sampler has terminated.", "samples", s.count.Load())
			return nil

		case <-ticker.C():
			if err := s.sample(); err != nil {
				return err
			}
		}
	}
}

func (s *Sampler) sample() error {
	regs, err := s.hw.ReadSnapshot()
	if err != nil {
		s.logger.Error("Failed to read energy counters, stopping", "error", err)
		return fmt.Errorf("sampler stopped: %w", err)
	}

	now := s.clock.Now()
	s.samples.Push(correlation.Sample{Registers: regs, Timestamp: now})
	s.count.Add(1)
	s.lastSample.Store(now.UnixNano())
	return nil
}

// LastSample returns the time of the most recent sample, zero before the first
func (s *Sampler) LastSample() time.Time {
	ns := s.lastSample.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Samples returns the number of samples taken
func (s *Sampler) Samples() uint64 {
	return s.count.Load()
}

// Running reports whether the sampling loop is active
func (s *Sampler) Running() bool {
	return state(s.state.Load()) == running
}

// Interval returns the sampling interval
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// IsLive reports whether the sampling loop is running and has produced a
// sample recently
func (s *Sampler) IsLive() bool {
	if !s.Running() {
		return false
	}
	last := s.LastSample()
	if last.IsZero() {
		return false
	}
	return s.clock.Since(last) <= max(10*s.interval, minStaleness)
}
