// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package distributor

import (
	"time"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/protocol"
)

// Packet is one correlated probe event as sent to observers
type Packet struct {
	Event protocol.ProbeEvent `json:"event"`

	// SampleTime is when the matched snapshot was taken
	SampleTime time.Time        `json:"sample_time"`
	Registers  device.Registers `json:"registers"`
	Joules     device.Joules    `json:"joules"`

	// Delta and DurationMillis are set on a Stop that matched a Start
	Delta          *device.Joules `json:"delta,omitempty"`
	DurationMillis uint64         `json:"duration_ms,omitempty"`

	// Overflows is the number of package counter wraparounds observed up to
	// the matched snapshot
	Overflows uint32 `json:"overflow_count"`
}

// Batch is what a single distribution cycle produced
type Batch []Packet

// BatchSink receives every non empty batch in addition to the observers
type BatchSink interface {
	Name() string
	Write(Batch) error
}
