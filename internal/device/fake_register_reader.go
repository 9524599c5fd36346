// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
)

// NOTE: This fake reader is not intended to be used in production and is for testing only

// DefaultFakePowerUnit is a typical power unit register: energy unit 2^-14 J
const DefaultFakePowerUnit uint64 = 0x000A0E03

// fakeRegisterReader implements RegisterReader with counters that grow on
// every read and wrap at 32 bits like the hardware registers do
type fakeRegisterReader struct {
	logger    *slog.Logger
	powerUnit uint64

	mu           sync.Mutex
	counters     map[uint64]uint64
	increments   map[uint64]uint64
	randomFactor float64
	initCount    int
}

var _ RegisterReader = (*fakeRegisterReader)(nil)

// FakeOptFn is a functional option for configuring the fake reader
type FakeOptFn func(*fakeRegisterReader)

// WithFakePowerUnit sets the raw value returned for the power unit register
func WithFakePowerUnit(raw uint64) FakeOptFn {
	return func(f *fakeRegisterReader) {
		f.powerUnit = raw
	}
}

// WithFakeCounter seeds a counter register with a start value and increment
func WithFakeCounter(address, start, increment uint64) FakeOptFn {
	return func(f *fakeRegisterReader) {
		f.counters[address] = start
		f.increments[address] = increment
	}
}

// WithFakeRandomFactor sets the random jitter added to every increment
func WithFakeRandomFactor(r float64) FakeOptFn {
	return func(f *fakeRegisterReader) {
		f.randomFactor = r
	}
}

func WithFakeLogger(l *slog.Logger) FakeOptFn {
	return func(f *fakeRegisterReader) {
		f.logger = l.With("service", f.Name())
	}
}

// NewFakeRegisterReader creates a fake reader serving the counters of layout
func NewFakeRegisterReader(layout Layout, opts ...FakeOptFn) *fakeRegisterReader {
	f := &fakeRegisterReader{
		logger:       slog.Default().With("service", "fake-register-reader"),
		powerUnit:    DefaultFakePowerUnit,
		counters:     map[uint64]uint64{},
		increments:   map[uint64]uint64{},
		randomFactor: 0.5,
	}

	incrementFactor := map[Domain]uint64{
		DomainPackage: 1200,
		DomainCore:    800,
		DomainPP0:     800,
		DomainPP1:     100,
		DomainDRAM:    500,
	}
	for domain, address := range layout.Addresses(AllDomains()) {
		f.counters[address] = 0
		f.increments[address] = incrementFactor[domain]
	}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *fakeRegisterReader) Name() string {
	return "fake-register-reader"
}

func (f *fakeRegisterReader) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCount++
	return nil
}

func (f *fakeRegisterReader) Read(address uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if address == IntelMSRPowerUnit || address == AMDMSRPowerUnit {
		return f.powerUnit, nil
	}

	value, ok := f.counters[address]
	if !ok {
		return 0, fmt.Errorf("fake register 0x%x not available", address)
	}

	inc := f.increments[address]
	jitter := uint64(rand.Float64() * float64(inc) * f.randomFactor)
	f.counters[address] = (value + inc + jitter) % (math.MaxUint32 + 1)
	return value, nil
}

func (f *fakeRegisterReader) Close() error {
	return nil
}
