// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/sustainable-computing-io/thor/internal/distributor"
	"github.com/sustainable-computing-io/thor/internal/protocol"
)

// Observer receives the batches the daemon distributes
type Observer struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialObserver connects to the daemon at address as an observer. A non
// empty repository asks the daemon to build and run it for the lifetime
// of the connection.
func DialObserver(ctx context.Context, address, repository string) (*Observer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewObserver(conn, repository)
}

// NewObserver performs the observer handshake on conn
func NewObserver(conn net.Conn, repository string) (*Observer, error) {
	if err := protocol.WriteConnectionType(conn, protocol.Observer); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to announce observer: %w", err)
	}
	if err := protocol.WriteHandshake(conn, repository); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send repository: %w", err)
	}
	return &Observer{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Next blocks until the next batch arrives. It returns io.EOF once the
// daemon closed the connection between batches.
func (o *Observer) Next() (distributor.Batch, error) {
	payload, err := protocol.ReadBatchFrame(o.r)
	if err != nil {
		return nil, err
	}

	var batch distributor.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return batch, nil
}

// Close disconnects from the daemon
func (o *Observer) Close() error {
	return o.conn.Close()
}
