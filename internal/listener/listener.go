// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/thor/internal/protocol"
	"github.com/sustainable-computing-io/thor/internal/queue"
	"github.com/sustainable-computing-io/thor/internal/service"
)

// ObserverRegistry accepts observer connections after their handshake and
// takes ownership of them
type ObserverRegistry interface {
	Add(conn net.Conn, repository string) string
}

// SessionStarter launches a process under test bound to an observer
type SessionStarter interface {
	Start(ctx context.Context, repository, observerID string) error
}

// Stats counts connections and events handled by the listener
type Stats struct {
	Accepted     uint64
	EventSources uint64
	Observers    uint64
	Events       uint64
	Rejected     uint64
	DecodeErrors uint64
}

// Listener accepts peer connections, classifies them by their first byte
// and runs the event intake loop for event sources
type Listener struct {
	logger           *slog.Logger
	address          string
	handshakeTimeout time.Duration

	events    *queue.Queue[protocol.ProbeEvent]
	observers ObserverRegistry
	sessions  SessionStarter

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{} // connections still owned by the listener
	wg    sync.WaitGroup

	accepting atomic.Bool

	accepted     atomic.Uint64
	eventSources atomic.Uint64
	observerConn atomic.Uint64
	received     atomic.Uint64
	rejected     atomic.Uint64
	decodeErrors atomic.Uint64
}

var (
	_ service.Initializer  = (*Listener)(nil)
	_ service.Runner       = (*Listener)(nil)
	_ service.Shutdowner   = (*Listener)(nil)
	_ service.ReadyChecker = (*Listener)(nil)
)

// NewListener creates a listener feeding decoded events into events
func NewListener(events *queue.Queue[protocol.ProbeEvent], observers ObserverRegistry, applyOpts ...OptionFn) *Listener {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Listener{
		logger:           opts.logger.With("service", "listener"),
		address:          opts.address,
		handshakeTimeout: opts.handshakeTimeout,
		events:           events,
		observers:        observers,
		sessions:         opts.sessions,
		conns:            make(map[net.Conn]struct{}),
	}
}

func (l *Listener) Name() string {
	return "listener"
}

// Init binds the listening socket so that address errors surface at startup
func (l *Listener) Init() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("Listening for probes and observers", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, nil before Init
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("listener not initialized")
	}

	go func() {
		<-ctx.Done()
		l.closeAll()
	}()

	l.logger.Info("Listener is running...")
	l.accepting.Store(true)
	defer l.accepting.Store(false)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				l.logger.Info("Listener has terminated.")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		l.accepted.Add(1)
		l.track(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

// IsReady reports whether the accept loop is running
func (l *Listener) IsReady() bool {
	return l.accepting.Load()
}

func (l *Listener) Shutdown() error {
	l.logger.Info("shutting down listener")
	l.closeAll()
	return nil
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.logger.Warn("failed to close listening socket", "error", err)
		}
	}
	for c := range l.conns {
		_ = c.Close()
		delete(l.conns, c)
	}
}

func (l *Listener) track(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c] = struct{}{}
}

// release hands c over; it reports false when shutdown already closed c
func (l *Listener) release(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.conns[c]
	delete(l.conns, c)
	return ok
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	logger := l.logger.With("remote", conn.RemoteAddr().String())

	if err := conn.SetReadDeadline(time.Now().Add(l.handshakeTimeout)); err != nil {
		logger.Debug("failed to set read deadline", "error", err)
	}
	ct, err := protocol.ReadConnectionType(conn)
	if err != nil {
		l.rejected.Add(1)
		logger.Debug("Rejecting connection", "error", err)
		l.drop(conn)
		return
	}

	switch ct {
	case protocol.EventSource:
		l.eventSources.Add(1)
		_ = conn.SetReadDeadline(time.Time{})
		l.intake(conn, logger)

	case protocol.Observer:
		l.observerConn.Add(1)
		l.registerObserver(ctx, conn, logger)
	}
}

// intake pushes every decoded event onto the event queue until the peer
// disconnects or sends a malformed frame
func (l *Listener) intake(conn net.Conn, logger *slog.Logger) {
	defer l.drop(conn)
	logger.Debug("Event source connected")

	for {
		event, err := protocol.ReadEvent(conn)
		switch {
		case err == nil:
			if !l.events.Push(event) {
				logger.Warn("Event queue is full, dropping event", "id", event.ID, "op", event.Operation)
				continue
			}
			l.received.Add(1)

		case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
			logger.Debug("Event source disconnected")
			return

		default:
			l.decodeErrors.Add(1)
			logger.Debug("Dropping event source", "error", err)
			return
		}
	}
}

func (l *Listener) registerObserver(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	if err := conn.SetReadDeadline(time.Now().Add(l.handshakeTimeout)); err != nil {
		logger.Debug("failed to set read deadline", "error", err)
	}
	repo, err := protocol.ReadHandshake(conn)
	if err != nil {
		l.decodeErrors.Add(1)
		logger.Debug("Dropping observer", "error", err)
		l.drop(conn)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if !l.release(conn) {
		return
	}
	id := l.observers.Add(conn, repo)
	logger.Info("Observer connected", "observer", id, "repository", repo)

	if repo == "" {
		return
	}
	if l.sessions == nil {
		logger.Warn("Sessions are disabled, ignoring repository", "observer", id, "repository", repo)
		return
	}
	if err := l.sessions.Start(ctx, repo, id); err != nil {
		logger.Error("Failed to start session", "observer", id, "repository", repo, "error", err)
	}
}

func (l *Listener) drop(conn net.Conn) {
	if l.release(conn) {
		_ = conn.Close()
	}
}

// Stats returns connection and event counters
func (l *Listener) Stats() Stats {
	return Stats{
		Accepted:     l.accepted.Load(),
		EventSources: l.eventSources.Load(),
		Observers:    l.observerConn.Load(),
		Events:       l.received.Load(),
		Rejected:     l.rejected.Load(),
		DecodeErrors: l.decodeErrors.Load(),
	}
}
