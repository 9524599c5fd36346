// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/csv"
	"io"
	"sync"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
)

// Record is the flat CSV form of a packet. Domains the vendor does not have
// are written as zero.
type Record struct {
	ID          string    `csv:"id"`
	ProcessID   uint32    `csv:"pid"`
	ThreadID    uint64    `csv:"tid"`
	Operation   string    `csv:"operation"`
	EventMillis uint64    `csv:"event_ms"`
	SampleTime  time.Time `csv:"sample_time"`
	Vendor      string    `csv:"vendor"`

	Pkg  float64 `csv:"pkg_joules"`
	Core float64 `csv:"core_joules"`
	PP0  float64 `csv:"pp0_joules"`
	PP1  float64 `csv:"pp1_joules"`
	DRAM float64 `csv:"dram_joules"`

	DeltaPkg       *float64 `csv:"delta_pkg_joules,omitempty"`
	DurationMillis *uint64  `csv:"duration_ms,omitempty"`
	Overflows      uint32   `csv:"overflows"`
}

// NewRecord flattens p
func NewRecord(p distributor.Packet) Record {
	byDomain := p.Joules.ByDomain()
	r := Record{
		ID:          p.Event.ID,
		ProcessID:   p.Event.ProcessID,
		ThreadID:    p.Event.ThreadID,
		Operation:   p.Event.Operation.String(),
		EventMillis: p.Event.Timestamp,
		SampleTime:  p.SampleTime.UTC(),
		Vendor:      string(p.Joules.Vendor),
		Pkg:         byDomain[device.DomainPackage],
		Core:        byDomain[device.DomainCore],
		PP0:         byDomain[device.DomainPP0],
		PP1:         byDomain[device.DomainPP1],
		DRAM:        byDomain[device.DomainDRAM],
		Overflows:   p.Overflows,
	}
	if p.Delta != nil {
		delta := p.Delta.Pkg()
		duration := p.DurationMillis
		r.DeltaPkg = &delta
		r.DurationMillis = &duration
	}
	return r
}

// CSVWriter appends batches to a CSV stream, writing the header before the
// first record
type CSVWriter struct {
	mu  sync.Mutex
	w   *csv.Writer
	enc *csvutil.Encoder
}

var _ distributor.BatchSink = (*CSVWriter)(nil)

func NewCSVWriter(out io.Writer) *CSVWriter {
	w := csv.NewWriter(out)
	return &CSVWriter{w: w, enc: csvutil.NewEncoder(w)}
}

func (c *CSVWriter) Name() string {
	return "csv"
}

// Write encodes every packet of b and flushes the stream
func (c *CSVWriter) Write(b distributor.Batch) error {
	if len(b) == 0 {
		return nil
	}

	records := make([]Record, 0, len(b))
	for _, p := range b {
		records = append(records, NewRecord(p))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(records); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}
