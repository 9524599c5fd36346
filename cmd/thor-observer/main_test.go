// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/thor/internal/device"
	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/protocol"
)

type scriptedSource struct {
	batches []distributor.Batch
	err     error
}

func (s *scriptedSource) Next() (distributor.Batch, error) {
	if len(s.batches) == 0 {
		return nil, s.err
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func batch(id string) distributor.Batch {
	return distributor.Batch{{
		Event:      protocol.ProbeEvent{ID: id, ProcessID: 1, ThreadID: 2, Timestamp: 10},
		SampleTime: time.UnixMilli(10),
		Joules:     device.Joules{Vendor: device.VendorAMD, AMD: &device.AMDJoules{Pkg: 2, Core: 1}},
	}}
}

func TestParseArgs(t *testing.T) {
	o, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, options{address: "localhost:6969", format: "table", output: "-", logLevel: "info"}, o)

	o, err = parseArgs([]string{"--format=csv", "--repository=https://example.com/r.git", "--address=host:1"})
	require.NoError(t, err)
	assert.Equal(t, "csv", o.format)
	assert.Equal(t, "https://example.com/r.git", o.repository)
	assert.Equal(t, "host:1", o.address)

	_, err = parseArgs([]string{"--format=xml"})
	assert.Error(t, err)
}

func TestReceive(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	t.Run("csv until eof", func(t *testing.T) {
		var buf bytes.Buffer
		src := &scriptedSource{batches: []distributor.Batch{batch("a"), batch("b")}, err: io.EOF}

		require.NoError(t, receive(context.Background(), log, src, newSink("csv", &buf)))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "a,1,2,start,10,"))
		assert.True(t, strings.HasPrefix(lines[2], "b,1,2,start,10,"))
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		src := &scriptedSource{batches: []distributor.Batch{batch("a")}, err: io.EOF}

		require.NoError(t, receive(context.Background(), log, src, newSink("table", &buf)))
		assert.Contains(t, buf.String(), "2.0000")
	})

	t.Run("read error", func(t *testing.T) {
		src := &scriptedSource{err: errors.New("boom")}
		assert.ErrorContains(t, receive(context.Background(), log, src, newSink("csv", io.Discard)), "boom")
	})

	t.Run("error after cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &scriptedSource{err: errors.New("use of closed network connection")}
		assert.NoError(t, receive(ctx, log, src, newSink("csv", io.Discard)))
	})
}
