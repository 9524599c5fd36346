// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/protocol"
)

// ErrClosed is returned when using a client after Close
var ErrClosed = errors.New("client is closed")

// EventSource reports Start and Stop events of an instrumented process to
// the daemon. It is safe for concurrent use.
type EventSource struct {
	clock    clock.PassiveClock
	pid      uint32
	threadID func() uint64

	mu     sync.Mutex
	conn   net.Conn
	w      *bufio.Writer
	closed bool
}

type sourceOpts struct {
	clock    clock.PassiveClock
	pid      uint32
	threadID func() uint64
}

// SourceOptionFn configures an EventSource
type SourceOptionFn func(*sourceOpts)

// WithSourceClock sets the clock used to timestamp events
func WithSourceClock(c clock.PassiveClock) SourceOptionFn {
	return func(o *sourceOpts) {
		o.clock = c
	}
}

// WithProcessID overrides the process id sent with every event
func WithProcessID(pid uint32) SourceOptionFn {
	return func(o *sourceOpts) {
		o.pid = pid
	}
}

// WithThreadID sets how Start and Stop identify the calling thread. By
// default the OS thread id is used, which is only stable for goroutines
// locked with runtime.LockOSThread.
func WithThreadID(fn func() uint64) SourceOptionFn {
	return func(o *sourceOpts) {
		o.threadID = fn
	}
}

// DialEventSource connects to the daemon at address as an event source
func DialEventSource(ctx context.Context, address string, applyOpts ...SourceOptionFn) (*EventSource, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewEventSource(conn, applyOpts...)
}

// NewEventSource announces conn as an event source and wraps it
func NewEventSource(conn net.Conn, applyOpts ...SourceOptionFn) (*EventSource, error) {
	opts := sourceOpts{
		clock:    clock.RealClock{},
		pid:      uint32(os.Getpid()),
		threadID: currentThreadID,
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if err := protocol.WriteConnectionType(conn, protocol.EventSource); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to announce event source: %w", err)
	}
	return &EventSource{
		clock:    opts.clock,
		pid:      opts.pid,
		threadID: opts.threadID,
		conn:     conn,
		w:        bufio.NewWriter(conn),
	}, nil
}

// Start marks the beginning of work id on the calling thread
func (s *EventSource) Start(id string) error {
	return s.Send(s.event(id, protocol.OperationStart))
}

// Stop marks the end of work id on the calling thread
func (s *EventSource) Stop(id string) error {
	return s.Send(s.event(id, protocol.OperationStop))
}

func (s *EventSource) event(id string, op protocol.Operation) protocol.ProbeEvent {
	return protocol.ProbeEvent{
		ID:        id,
		ProcessID: s.pid,
		ThreadID:  s.threadID(),
		Operation: op,
		Timestamp: uint64(s.clock.Now().UnixMilli()),
	}
}

// Send writes a fully specified event
func (s *EventSource) Send(e protocol.ProbeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := protocol.WriteEvent(s.w, e); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close closes the connection; the daemon stops reading from it
func (s *EventSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
