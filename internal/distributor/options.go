// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package distributor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger          *slog.Logger
	clock           clock.WithTicker
	cycle           time.Duration
	maxPendingStart time.Duration
	maxCarry        time.Duration
	sinks           []BatchSink
}

// DefaultOpts returns the options used when none are supplied
func DefaultOpts() Opts {
	return Opts{
		logger:          slog.Default(),
		clock:           clock.RealClock{},
		cycle:           250 * time.Millisecond,
		maxPendingStart: 10 * time.Minute,
		maxCarry:        5 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithCycle sets the distribution period
func WithCycle(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.cycle = d
	}
}

// WithMaxPendingStart sets how long a Start waits for its Stop before it
// is forgotten
func WithMaxPendingStart(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxPendingStart = d
	}
}

// WithMaxCarry sets how long an event whose measurement is not yet
// available is carried over before it is dropped
func WithMaxCarry(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxCarry = d
	}
}

// WithSinks adds local consumers of every distributed batch
func WithSinks(sinks ...BatchSink) OptionFn {
	return func(o *Opts) {
		o.sinks = append(o.sinks, sinks...)
	}
}
