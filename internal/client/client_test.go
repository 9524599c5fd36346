// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/listener"
	"github.com/sustainable-computing-io/thor/internal/protocol"
	"github.com/sustainable-computing-io/thor/internal/queue"
)

func TestEventSourceWritesFrames(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	fakeClock := testingclock.NewFakeClock(time.UnixMilli(100))
	received := make(chan protocol.ProbeEvent, 2)
	tags := make(chan protocol.ConnectionType, 1)
	go func() {
		ct, err := protocol.ReadConnectionType(serverConn)
		if err != nil {
			return
		}
		tags <- ct
		for {
			e, err := protocol.ReadEvent(serverConn)
			if err != nil {
				return
			}
			received <- e
		}
	}()

	src, err := NewEventSource(clientConn,
		WithSourceClock(fakeClock),
		WithProcessID(42),
		WithThreadID(func() uint64 { return 7 }),
	)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventSource, <-tags)

	require.NoError(t, src.Start("query"))
	fakeClock.Step(100 * time.Millisecond)
	require.NoError(t, src.Stop("query"))

	start, stop := <-received, <-received
	assert.Equal(t, protocol.ProbeEvent{
		ID: "query", ProcessID: 42, ThreadID: 7, Operation: protocol.OperationStart, Timestamp: 100,
	}, start)
	assert.Equal(t, protocol.ProbeEvent{
		ID: "query", ProcessID: 42, ThreadID: 7, Operation: protocol.OperationStop, Timestamp: 200,
	}, stop)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start("late"), ErrClosed)
}

func TestEventSourceRejectsOversizedEvent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	go func() { _, _ = io.Copy(io.Discard, serverConn) }()

	src, err := NewEventSource(clientConn, WithThreadID(func() uint64 { return 1 }))
	require.NoError(t, err)
	defer src.Close()

	long := make([]byte, protocol.MaxFrameSize)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, src.Start(string(long)), protocol.ErrFrameTooLarge)
}

func TestObserverReceivesBatches(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	sent := distributor.Batch{{
		Event:      protocol.ProbeEvent{ID: "a", ThreadID: 3, Operation: protocol.OperationStop, Timestamp: 200},
		SampleTime: time.UnixMilli(190).UTC(),
		Registers: device.Registers{
			Vendor: device.VendorAMD,
			AMD:    &device.AMDRegisters{Core: 10, Pkg: 1200},
		},
		Joules: device.Joules{
			Vendor: device.VendorAMD,
			AMD:    &device.AMDJoules{Core: 1, Pkg: 120},
		},
		Delta: &device.Joules{
			Vendor: device.VendorAMD,
			AMD:    &device.AMDJoules{Core: 0, Pkg: 20},
		},
		DurationMillis: 100,
	}}

	repos := make(chan string, 1)
	go func() {
		defer serverConn.Close()
		if ct, err := protocol.ReadConnectionType(serverConn); err != nil || ct != protocol.Observer {
			return
		}
		repo, err := protocol.ReadHandshake(serverConn)
		if err != nil {
			return
		}
		repos <- repo

		payload, _ := json.Marshal(sent)
		_, _ = serverConn.Write(protocol.BatchFrame(payload))
	}()

	obs, err := NewObserver(clientConn, "https://example.com/app.git")
	require.NoError(t, err)
	defer obs.Close()
	assert.Equal(t, "https://example.com/app.git", <-repos)

	got, err := obs.Next()
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	_, err = obs.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestObserverMalformedBatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		_, _ = protocol.ReadConnectionType(serverConn)
		_, _ = protocol.ReadHandshake(serverConn)
		_, _ = serverConn.Write(protocol.BatchFrame([]byte("{not json")))
	}()

	obs, err := NewObserver(clientConn, "")
	require.NoError(t, err)
	defer obs.Close()

	_, err = obs.Next()
	assert.ErrorContains(t, err, "failed to decode batch")
}

func TestEventSourceThroughListener(t *testing.T) {
	events := queue.New[protocol.ProbeEvent](0)
	l := listener.NewListener(events, nil, listener.WithAddress("127.0.0.1:0"))
	require.NoError(t, l.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	src, err := DialEventSource(ctx, l.Addr().String(), WithThreadID(func() uint64 { return 9 }))
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Start("job"))
	require.NoError(t, src.Stop("job"))

	require.Eventually(t, func() bool { return events.Len() == 2 }, time.Second, 5*time.Millisecond)
	got := events.Drain()
	assert.Equal(t, protocol.OperationStart, got[0].Operation)
	assert.Equal(t, protocol.OperationStop, got[1].Operation)
	assert.Equal(t, "job", got[1].ID)
	assert.Equal(t, uint64(9), got[1].ThreadID)
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialEventSource(context.Background(), addr)
	assert.Error(t, err)
	_, err = DialObserver(context.Background(), addr, "")
	assert.Error(t, err)
}
