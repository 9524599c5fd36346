// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/protocol"
)

func csvPackets() distributor.Batch {
	sampled := time.Date(2025, 1, 1, 0, 0, 1, 500_000_000, time.UTC)
	start := distributor.Packet{
		Event: protocol.ProbeEvent{
			ID: "q", ProcessID: 42, ThreadID: 7,
			Operation: protocol.OperationStart, Timestamp: 1000,
		},
		SampleTime: sampled,
		Joules: device.Joules{
			Vendor: device.VendorIntel,
			Intel:  &device.IntelJoules{Pkg: 1.5, PP0: 0.5},
		},
	}
	stop := start
	stop.Event.Operation = protocol.OperationStop
	stop.Event.Timestamp = 1100
	stop.Joules = device.Joules{
		Vendor: device.VendorIntel,
		Intel:  &device.IntelJoules{Pkg: 1.75, PP0: 0.5},
	}
	stop.Delta = &device.Joules{Vendor: device.VendorIntel, Intel: &device.IntelJoules{Pkg: 0.25}}
	stop.DurationMillis = 100
	stop.Overflows = 1
	return distributor.Batch{start, stop}
}

func TestNewRecord(t *testing.T) {
	b := csvPackets()

	start := NewRecord(b[0])
	assert.Equal(t, "start", start.Operation)
	assert.Equal(t, "intel", start.Vendor)
	assert.InDelta(t, 1.5, start.Pkg, 1e-9)
	assert.Zero(t, start.Core)
	assert.Nil(t, start.DeltaPkg)
	assert.Nil(t, start.DurationMillis)

	stop := NewRecord(b[1])
	require.NotNil(t, stop.DeltaPkg)
	require.NotNil(t, stop.DurationMillis)
	assert.InDelta(t, 0.25, *stop.DeltaPkg, 1e-9)
	assert.Equal(t, uint64(100), *stop.DurationMillis)
	assert.Equal(t, uint32(1), stop.Overflows)
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	assert.Equal(t, "csv", w.Name())

	require.NoError(t, w.Write(nil))
	assert.Empty(t, buf.String())

	require.NoError(t, w.Write(csvPackets()))
	require.NoError(t, w.Write(csvPackets()[:1]))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, "one header and three records")
	assert.Equal(t,
		"id,pid,tid,operation,event_ms,sample_time,vendor,pkg_joules,core_joules,pp0_joules,pp1_joules,dram_joules,delta_pkg_joules,duration_ms,overflows",
		lines[0])
	assert.Equal(t, "q,42,7,start,1000,2025-01-01T00:00:01.5Z,intel,1.5,0,0.5,0,0,,,0", lines[1])
	assert.Equal(t, "q,42,7,stop,1100,2025-01-01T00:00:01.5Z,intel,1.75,0,0.5,0,0,0.25,100,1", lines[2])
}
