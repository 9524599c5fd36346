// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"log/slog"
	"time"
)

type Opts struct {
	logger           *slog.Logger
	address          string
	handshakeTimeout time.Duration
	sessions         SessionStarter
}

// DefaultOpts returns the options used when none are supplied
func DefaultOpts() Opts {
	return Opts{
		logger:           slog.Default(),
		address:          ":6969",
		handshakeTimeout: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithAddress sets the TCP address to listen on
func WithAddress(addr string) OptionFn {
	return func(o *Opts) {
		o.address = addr
	}
}

// WithHandshakeTimeout bounds the time a peer has to identify itself
func WithHandshakeTimeout(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.handshakeTimeout = d
	}
}

// WithSessions enables launching processes for observers that send a
// repository reference
func WithSessions(s SessionStarter) OptionFn {
	return func(o *Opts) {
		o.sessions = s
	}
}
