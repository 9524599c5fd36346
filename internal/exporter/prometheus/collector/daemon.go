// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/thor/internal/correlation"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/listener"
	"github.com/sustainable-computing-io/thor/internal/session"
)

type (
	SamplerStats interface {
		Samples() uint64
		LastSample() time.Time
	}
	StoreStats interface {
		Stats() correlation.Stats
	}
	DistributorStats interface {
		Stats() distributor.Stats
	}
	ListenerStats interface {
		Stats() listener.Stats
	}
	ObserverStats interface {
		Len() int
		Pruned() uint64
	}
	SessionStats interface {
		Stats() session.Stats
	}
)

// Sources are the components reported by DaemonCollector; nil sources are
// skipped
type Sources struct {
	Sampler     SamplerStats
	Store       StoreStats
	Distributor DistributorStats
	Listener    ListenerStats
	Observers   ObserverStats
	Sessions    SessionStats
}

type metric struct {
	desc      *prom.Desc
	valueType prom.ValueType
}

func newMetric(subsystem, name, help string, valueType prom.ValueType, labels ...string) metric {
	return metric{
		desc:      prom.NewDesc(prom.BuildFQName(thorNS, subsystem, name), help, labels, nil),
		valueType: valueType,
	}
}

func (m metric) emit(ch chan<- prom.Metric, v float64, labels ...string) {
	ch <- prom.MustNewConstMetric(m.desc, m.valueType, v, labels...)
}

// DaemonCollector reports the counters every pipeline stage keeps, read
// once per scrape
type DaemonCollector struct {
	src Sources

	samples    metric
	lastSample metric

	intervals  metric
	indexed    metric
	evicted    metric
	outOfOrder metric
	lookups    metric

	cycles        metric
	batches       metric
	packets       metric
	bytesSent     metric
	deliveries    metric
	events        metric
	violations    metric
	unmatched     metric
	expiredStarts metric
	outstanding   metric
	sinkErrors    metric

	connections  metric
	received     metric
	decodeErrors metric

	observers metric
	pruned    metric

	sessions       metric
	activeSessions metric
}

var _ prom.Collector = (*DaemonCollector)(nil)

func NewDaemonCollector(src Sources) *DaemonCollector {
	return &DaemonCollector{
		src: src,

		samples:    newMetric("sampler", "samples_total", "Register snapshots taken", prom.CounterValue),
		lastSample: newMetric("sampler", "last_sample_timestamp_seconds", "Time of the most recent snapshot", prom.GaugeValue),

		intervals:  newMetric("store", "intervals", "Samples currently retained", prom.GaugeValue),
		indexed:    newMetric("store", "samples_total", "Samples folded into the index", prom.CounterValue),
		evicted:    newMetric("store", "evicted_total", "Samples evicted after the retention period", prom.CounterValue),
		outOfOrder: newMetric("store", "out_of_order_total", "Samples dropped for a non increasing timestamp", prom.CounterValue),
		lookups: newMetric("store", "lookup_failures_total", "Lookups without a measurement by reason",
			prom.CounterValue, "reason"),

		cycles:        newMetric("distributor", "cycles_total", "Distribution cycles run", prom.CounterValue),
		batches:       newMetric("distributor", "batches_total", "Non empty batches produced", prom.CounterValue),
		packets:       newMetric("distributor", "packets_total", "Packets produced", prom.CounterValue),
		bytesSent:     newMetric("distributor", "sent_bytes_total", "Bytes written to observers", prom.CounterValue),
		deliveries:    newMetric("distributor", "deliveries_total", "Batches delivered to an observer", prom.CounterValue),
		events:        newMetric("distributor", "events_total", "Events not turned into a packet by outcome", prom.CounterValue, "outcome"),
		violations:    newMetric("distributor", "protocol_violations_total", "Start events rejected while a Start was outstanding", prom.CounterValue),
		unmatched:     newMetric("distributor", "unmatched_stops_total", "Stop events without an outstanding Start", prom.CounterValue),
		expiredStarts: newMetric("distributor", "expired_starts_total", "Start events forgotten without a Stop", prom.CounterValue),
		outstanding:   newMetric("distributor", "outstanding_starts", "Start events waiting for their Stop", prom.GaugeValue),
		sinkErrors:    newMetric("distributor", "sink_errors_total", "Failed writes to local batch sinks", prom.CounterValue),

		connections:  newMetric("listener", "connections_total", "Connections by classification", prom.CounterValue, "type"),
		received:     newMetric("listener", "events_received_total", "Probe events queued", prom.CounterValue),
		decodeErrors: newMetric("listener", "decode_errors_total", "Event sources dropped for a malformed frame", prom.CounterValue),

		observers: newMetric("", "observers", "Connected observers", prom.GaugeValue),
		pruned:    newMetric("", "observers_pruned_total", "Observers dropped after a failed write", prom.CounterValue),

		sessions:       newMetric("session", "total", "Sessions by result", prom.CounterValue, "result"),
		activeSessions: newMetric("session", "active", "Sessions being built or drained", prom.GaugeValue),
	}
}

func (c *DaemonCollector) all() []metric {
	return []metric{
		c.samples, c.lastSample,
		c.intervals, c.indexed, c.evicted, c.outOfOrder, c.lookups,
		c.cycles, c.batches, c.packets, c.bytesSent, c.deliveries, c.events,
		c.violations, c.unmatched, c.expiredStarts, c.outstanding, c.sinkErrors,
		c.connections, c.received, c.decodeErrors,
		c.observers, c.pruned,
		c.sessions, c.activeSessions,
	}
}

func (c *DaemonCollector) Describe(ch chan<- *prom.Desc) {
	for _, m := range c.all() {
		ch <- m.desc
	}
}

func (c *DaemonCollector) Collect(ch chan<- prom.Metric) {
	if s := c.src.Sampler; s != nil {
		c.samples.emit(ch, float64(s.Samples()))
		if last := s.LastSample(); !last.IsZero() {
			c.lastSample.emit(ch, float64(last.UnixNano())/1e9)
		}
	}

	if s := c.src.Store; s != nil {
		st := s.Stats()
		c.intervals.emit(ch, float64(st.Intervals))
		c.indexed.emit(ch, float64(st.Samples))
		c.evicted.emit(ch, float64(st.Evicted))
		c.outOfOrder.emit(ch, float64(st.OutOfOrder))
		c.lookups.emit(ch, float64(st.Misses), "miss")
		c.lookups.emit(ch, float64(st.Pending), "pending")
	}

	if d := c.src.Distributor; d != nil {
		st := d.Stats()
		c.cycles.emit(ch, float64(st.Cycles))
		c.batches.emit(ch, float64(st.Batches))
		c.packets.emit(ch, float64(st.Packets))
		c.bytesSent.emit(ch, float64(st.BytesSent))
		c.deliveries.emit(ch, float64(st.Deliveries))
		c.events.emit(ch, float64(st.Dropped), "dropped")
		c.events.emit(ch, float64(st.Carried), "carried")
		c.violations.emit(ch, float64(st.Violations))
		c.unmatched.emit(ch, float64(st.UnmatchedStops))
		c.expiredStarts.emit(ch, float64(st.ExpiredStarts))
		c.outstanding.emit(ch, float64(st.OutstandingStarts))
		c.sinkErrors.emit(ch, float64(st.SinkErrors))
	}

	if l := c.src.Listener; l != nil {
		st := l.Stats()
		c.connections.emit(ch, float64(st.EventSources), "event_source")
		c.connections.emit(ch, float64(st.Observers), "observer")
		c.connections.emit(ch, float64(st.Rejected), "rejected")
		c.received.emit(ch, float64(st.Events))
		c.decodeErrors.emit(ch, float64(st.DecodeErrors))
	}

	if o := c.src.Observers; o != nil {
		c.observers.emit(ch, float64(o.Len()))
		c.pruned.emit(ch, float64(o.Pruned()))
	}

	if s := c.src.Sessions; s != nil {
		st := s.Stats()
		c.sessions.emit(ch, float64(st.Started), "started")
		c.sessions.emit(ch, float64(st.Completed), "completed")
		c.sessions.emit(ch, float64(st.Failed), "failed")
		c.activeSessions.emit(ch, float64(st.Active))
	}
}
