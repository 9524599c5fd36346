// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the wire format spoken between the daemon,
// instrumented processes and observers.
package protocol

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize is the largest encoded ProbeEvent a one byte length prefix
// can describe
const MaxFrameSize = 255

var (
	ErrMalformedEvent = errors.New("malformed probe event")
	ErrFrameTooLarge  = errors.New("probe event exceeds frame size")
)

// Operation is the kind of a probe event
type Operation uint8

const (
	OperationStart Operation = 0
	OperationStop  Operation = 1
)

func (o Operation) String() string {
	switch o {
	case OperationStart:
		return "start"
	case OperationStop:
		return "stop"
	}
	return fmt.Sprintf("operation(%d)", uint8(o))
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	switch string(b) {
	case "start":
		*o = OperationStart
	case "stop":
		*o = OperationStop
	default:
		return fmt.Errorf("unknown operation %q", b)
	}
	return nil
}

// ProbeEvent marks the start or the end of a unit of work in an
// instrumented process. A Start and its Stop share ID and ThreadID.
type ProbeEvent struct {
	ID        string    `json:"id"`
	ProcessID uint32    `json:"process_id"`
	ThreadID  uint64    `json:"thread_id"`
	Operation Operation `json:"operation"`
	// Timestamp is in milliseconds since the Unix epoch
	Timestamp uint64 `json:"timestamp"`
}

// Time returns the event timestamp
func (e ProbeEvent) Time() time.Time {
	return time.UnixMilli(int64(e.Timestamp))
}

// Key identifies the Start/Stop pair the event belongs to
func (e ProbeEvent) Key() Key {
	return Key{ID: e.ID, ThreadID: e.ThreadID}
}

// Key pairs a Start with its Stop
type Key struct {
	ID       string
	ThreadID uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.ID, k.ThreadID)
}

// field numbers of the encoded event
const (
	fieldID        protowire.Number = 1
	fieldProcessID protowire.Number = 2
	fieldThreadID  protowire.Number = 3
	fieldOperation protowire.Number = 4
	fieldTimestamp protowire.Number = 5
)

// EncodeEvent serializes e using the protobuf wire format. Zero valued
// numeric fields are omitted.
func EncodeEvent(e ProbeEvent) ([]byte, error) {
	if !utf8.ValidString(e.ID) {
		return nil, fmt.Errorf("%w: id is not valid utf-8", ErrMalformedEvent)
	}

	var b []byte
	if e.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, e.ID)
	}
	if e.ProcessID != 0 {
		b = protowire.AppendTag(b, fieldProcessID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.ProcessID))
	}
	if e.ThreadID != 0 {
		b = protowire.AppendTag(b, fieldThreadID, protowire.VarintType)
		b = protowire.AppendVarint(b, e.ThreadID)
	}
	if e.Operation != OperationStart {
		b = protowire.AppendTag(b, fieldOperation, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Operation))
	}
	if e.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Timestamp)
	}

	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	return b, nil
}

// DecodeEvent parses an event produced by EncodeEvent. Unknown fields are skipped.
func DecodeEvent(b []byte) (ProbeEvent, error) {
	var e ProbeEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ProbeEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ProbeEvent{}, fmt.Errorf("%w: id: %w", ErrMalformedEvent, protowire.ParseError(n))
			}
			if !utf8.ValidString(v) {
				return ProbeEvent{}, fmt.Errorf("%w: id is not valid utf-8", ErrMalformedEvent)
			}
			e.ID = v
			b = b[n:]

		case typ == protowire.VarintType && num >= fieldProcessID && num <= fieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ProbeEvent{}, fmt.Errorf("%w: field %d: %w", ErrMalformedEvent, num, protowire.ParseError(n))
			}
			if err := e.setVarint(num, v); err != nil {
				return ProbeEvent{}, err
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ProbeEvent{}, fmt.Errorf("%w: field %d: %w", ErrMalformedEvent, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

func (e *ProbeEvent) setVarint(num protowire.Number, v uint64) error {
	switch num {
	case fieldProcessID:
		if v > uint64(^uint32(0)) {
			return fmt.Errorf("%w: process id %d out of range", ErrMalformedEvent, v)
		}
		e.ProcessID = uint32(v)
	case fieldThreadID:
		e.ThreadID = v
	case fieldOperation:
		if v > uint64(OperationStop) {
			return fmt.Errorf("%w: unknown operation %d", ErrMalformedEvent, v)
		}
		e.Operation = Operation(v)
	case fieldTimestamp:
		e.Timestamp = v
	}
	return nil
}
