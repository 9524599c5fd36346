// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package distributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/protocol"
	"github.com/sustainable-computing-io/thor/internal/queue"
	"github.com/sustainable-computing-io/thor/internal/service"
)

// Correlator resolves event timestamps to energy snapshots
type Correlator interface {
	RecordPendingSamples() int
	LookupBatch(ts []time.Time) []correlation.Result
}

// EnergyUnitProvider returns joules per counter tick
type EnergyUnitProvider interface {
	EnergyUnit() (float64, error)
}

// Stats counts what the distributor has done since start
type Stats struct {
	Cycles            uint64
	Batches           uint64
	Packets           uint64
	BytesSent         uint64
	Deliveries        uint64
	Dropped           uint64 // events without a measurement
	Carried           uint64 // events postponed to a later cycle
	Violations        uint64 // Start with a Start already outstanding
	UnmatchedStops    uint64
	ExpiredStarts     uint64
	OutstandingStarts int
	SinkErrors        uint64
}

type carried struct {
	event protocol.ProbeEvent
	since time.Time
}

type outstandingStart struct {
	event    protocol.ProbeEvent
	snapshot correlation.TimedSnapshot
	seen     time.Time
}

// Distributor periodically correlates queued probe events with energy
// snapshots and broadcasts the results to every observer
type Distributor struct {
	logger          *slog.Logger
	clock           clock.WithTicker
	cycle           time.Duration
	maxPendingStart time.Duration
	maxCarry        time.Duration

	events    *queue.Queue[protocol.ProbeEvent]
	store     Correlator
	hw        EnergyUnitProvider
	observers *ObserverSet
	sinks     []BatchSink

	unit float64

	// owned by the cycle loop
	carry       []carried
	outstanding map[protocol.Key]outstandingStart

	cycles         atomic.Uint64
	batches        atomic.Uint64
	packets        atomic.Uint64
	bytesSent      atomic.Uint64
	deliveries     atomic.Uint64
	dropped        atomic.Uint64
	carriedCount   atomic.Uint64
	violations     atomic.Uint64
	unmatchedStops atomic.Uint64
	expiredStarts  atomic.Uint64
	outstandingN   atomic.Int64
	sinkErrors     atomic.Uint64
	lastCycle      atomic.Int64
}

var (
	_ service.Initializer = (*Distributor)(nil)
	_ service.Runner      = (*Distributor)(nil)
	_ service.Shutdowner  = (*Distributor)(nil)
	_ service.LiveChecker = (*Distributor)(nil)
)

// NewDistributor creates a distributor draining events
func NewDistributor(events *queue.Queue[protocol.ProbeEvent], store Correlator, hw EnergyUnitProvider,
	observers *ObserverSet, applyOpts ...OptionFn,
) *Distributor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Distributor{
		logger:          opts.logger.With("service", "distributor"),
		clock:           opts.clock,
		cycle:           opts.cycle,
		maxPendingStart: opts.maxPendingStart,
		maxCarry:        opts.maxCarry,
		events:          events,
		store:           store,
		hw:              hw,
		observers:       observers,
		sinks:           opts.sinks,
		outstanding:     make(map[protocol.Key]outstandingStart),
	}
}

func (d *Distributor) Name() string {
	return "distributor"
}

// Init resolves the energy unit used for every conversion
func (d *Distributor) Init() error {
	if d.cycle <= 0 {
		return fmt.Errorf("invalid distribution cycle %s", d.cycle)
	}
	unit, err := d.hw.EnergyUnit()
	if err != nil {
		return fmt.Errorf("failed to read energy unit: %w", err)
	}
	d.unit = unit
	d.logger.Info("Distributor initialized", "cycle", d.cycle, "energy_unit_j", unit, "sinks", len(d.sinks))
	return nil
}

func (d *Distributor) Run(ctx context.Context) error {
	d.logger.Info("Distributor is running...")
	ticker := d.clock.NewTicker(d.cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.observers.CloseAll()
			d.logger.Info("Distributor has terminated.")
			return nil

		case <-ticker.C():
			d.distribute()
		}
	}
}

func (d *Distributor) Shutdown() error {
	d.logger.Info("shutting down distributor")
	d.observers.CloseAll()
	return nil
}

// distribute runs one cycle and returns the batch it produced
func (d *Distributor) distribute() Batch {
	now := d.clock.Now()
	d.cycles.Add(1)
	d.lastCycle.Store(now.UnixNano())
	defer func() {
		d.outstandingN.Store(int64(len(d.outstanding)))
	}()
	d.expireStarts(now)

	pending := d.takeEvents(now)
	if len(pending) == 0 {
		d.store.RecordPendingSamples()
		return nil
	}

	ts := make([]time.Time, len(pending))
	for i, p := range pending {
		ts[i] = p.event.Time()
	}
	results := d.store.LookupBatch(ts)

	batch := make(Batch, 0, len(pending))
	postponed := make(map[protocol.Key]bool)
	for i, p := range pending {
		key := p.event.Key()

		// keep the order of a Start and its Stop when one of them is postponed
		if postponed[key] {
			d.postpone(p)
			continue
		}

		res := results[i]
		switch {
		case res.Err == nil:
			if pkt, ok := d.pair(p.event, res.Snapshot, now); ok {
				batch = append(batch, pkt)
			}

		case errors.Is(res.Err, correlation.ErrMeasurementPending) && now.Sub(p.since) < d.maxCarry:
			postponed[key] = true
			d.postpone(p)

		default:
			d.dropped.Add(1)
			d.logger.Debug("Dropping event without measurement",
				"id", p.event.ID, "thread", p.event.ThreadID, "op", p.event.Operation,
				"timestamp", p.event.Timestamp, "error", res.Err)
		}
	}

	if len(batch) == 0 {
		return nil
	}
	d.send(batch)
	return batch
}

// takeEvents returns the events carried from the previous cycle followed by
// everything queued since
func (d *Distributor) takeEvents(now time.Time) []carried {
	pending := d.carry
	d.carry = nil
	for _, e := range d.events.Drain() {
		pending = append(pending, carried{event: e, since: now})
	}
	return pending
}

func (d *Distributor) postpone(p carried) {
	d.carriedCount.Add(1)
	d.carry = append(d.carry, p)
}

// pair converts the matched snapshot and applies Start/Stop pairing. It
// reports false for events that must not be sent.
func (d *Distributor) pair(e protocol.ProbeEvent, snap correlation.TimedSnapshot, now time.Time) (Packet, bool) {
	pkt := Packet{
		Event:      e,
		SampleTime: snap.Timestamp,
		Registers:  snap.Registers,
		Joules:     device.ToJoules(snap.Registers, d.unit),
		Overflows:  snap.Overflows,
	}

	key := e.Key()
	switch e.Operation {
	case protocol.OperationStart:
		if prev, ok := d.outstanding[key]; ok {
			// the first Start stays outstanding; the second is rejected
			d.violations.Add(1)
			d.logger.Warn("Rejecting Start while another Start is outstanding",
				"key", key.String(), "outstanding_since", prev.event.Timestamp, "rejected", e.Timestamp)
			return Packet{}, false
		}
		d.outstanding[key] = outstandingStart{event: e, snapshot: snap, seen: now}

	case protocol.OperationStop:
		start, ok := d.outstanding[key]
		if !ok {
			d.unmatchedStops.Add(1)
			d.logger.Debug("Stop without outstanding Start", "key", key.String())
			break
		}
		delete(d.outstanding, key)

		delta, err := device.DeltaJoules(start.snapshot.Registers, snap.Registers, d.unit)
		if err != nil {
			d.logger.Error("Cannot compute energy delta", "key", key.String(), "error", err)
			break
		}
		pkt.Delta = &delta
		if e.Timestamp >= start.event.Timestamp {
			pkt.DurationMillis = e.Timestamp - start.event.Timestamp
		}
	}
	return pkt, true
}

// expireStarts forgets Starts that have waited too long for their Stop
func (d *Distributor) expireStarts(now time.Time) {
	for key, s := range d.outstanding {
		if now.Sub(s.seen) > d.maxPendingStart {
			delete(d.outstanding, key)
			d.expiredStarts.Add(1)
			d.logger.Debug("Forgetting Start without Stop", "key", key.String(), "since", s.seen)
		}
	}
}

func (d *Distributor) send(batch Batch) {
	d.batches.Add(1)
	d.packets.Add(uint64(len(batch)))

	for _, sink := range d.sinks {
		if err := sink.Write(batch); err != nil {
			d.sinkErrors.Add(1)
			d.logger.Warn("Batch sink failed", "sink", sink.Name(), "error", err)
		}
	}

	if d.observers.Len() == 0 {
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		d.logger.Error("Failed to serialize batch", "packets", len(batch), "error", err)
		return
	}
	frame := protocol.BatchFrame(payload)
	delivered := d.observers.Broadcast(frame)

	d.deliveries.Add(uint64(delivered))
	d.bytesSent.Add(uint64(delivered * len(frame)))
	d.logger.Debug("Batch distributed", "packets", len(batch), "bytes", len(frame), "observers", delivered)
}

// LastCycle returns the time the last cycle started
func (d *Distributor) LastCycle() time.Time {
	ns := d.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsLive reports whether a cycle started within the last ten cycle periods
func (d *Distributor) IsLive() bool {
	last := d.LastCycle()
	if last.IsZero() {
		return false
	}
	return d.clock.Since(last) <= 10*d.cycle
}

// Observers returns the set of connected observers
func (d *Distributor) Observers() *ObserverSet {
	return d.observers
}

func (d *Distributor) Stats() Stats {
	return Stats{
		Cycles:            d.cycles.Load(),
		Batches:           d.batches.Load(),
		Packets:           d.packets.Load(),
		BytesSent:         d.bytesSent.Load(),
		Deliveries:        d.deliveries.Load(),
		Dropped:           d.dropped.Load(),
		Carried:           d.carriedCount.Load(),
		Violations:        d.violations.Load(),
		UnmatchedStops:    d.unmatchedStops.Load(),
		ExpiredStarts:     d.expiredStarts.Load(),
		OutstandingStarts: int(d.outstandingN.Load()),
		SinkErrors:        d.sinkErrors.Load(),
	}
}
