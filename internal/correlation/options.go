// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger       *slog.Logger
	clock        clock.PassiveClock
	interval     time.Duration
	maxSampleAge time.Duration
}

// DefaultOpts returns the options used when none are supplied
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		clock:        clock.RealClock{},
		interval:     time.Millisecond,
		maxSampleAge: 60 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Store
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock used for retention
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithInterval sets the width of the interval each sample covers. It must
// match the sampling interval.
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithMaxSampleAge sets the retention window
func WithMaxSampleAge(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxSampleAge = d
	}
}
