// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/thor/internal/protocol"
	"github.com/sustainable-computing-io/thor/internal/queue"
)

type registered struct {
	conn net.Conn
	repo string
}

// fakeRegistry records observers handed over by the listener
type fakeRegistry struct {
	mu        sync.Mutex
	observers []registered
}

func (f *fakeRegistry) Add(conn net.Conn, repo string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, registered{conn: conn, repo: repo})
	return "observer-" + string(rune('0'+len(f.observers)))
}

func (f *fakeRegistry) list() []registered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]registered(nil), f.observers...)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Start(ctx context.Context, repo, observerID string) error {
	return m.Called(ctx, repo, observerID).Error(0)
}

type harness struct {
	listener *Listener
	events   *queue.Queue[protocol.ProbeEvent]
	registry *fakeRegistry
	cancel   context.CancelFunc
	done     chan error
}

func startListener(t *testing.T, opts ...OptionFn) *harness {
	t.Helper()
	h := &harness{
		events:   queue.New[protocol.ProbeEvent](0),
		registry: &fakeRegistry{},
		done:     make(chan error, 1),
	}

	opts = append([]OptionFn{
		WithAddress("127.0.0.1:0"),
		WithHandshakeTimeout(100 * time.Millisecond),
	}, opts...)
	h.listener = NewListener(h.events, h.registry, opts...)
	require.NoError(t, h.listener.Init())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.listener.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
		for _, o := range h.registry.list() {
			_ = o.conn.Close()
		}
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server must close the connection")
}

func TestEventIntake(t *testing.T) {
	h := startListener(t)
	conn := h.dial(t)

	events := []protocol.ProbeEvent{
		{ID: "A", ProcessID: 10, ThreadID: 1, Operation: protocol.OperationStart, Timestamp: 100},
		{ID: "A", ProcessID: 10, ThreadID: 1, Operation: protocol.OperationStop, Timestamp: 200},
	}
	require.NoError(t, protocol.WriteConnectionType(conn, protocol.EventSource))
	for _, e := range events {
		require.NoError(t, protocol.WriteEvent(conn, e))
	}

	require.Eventually(t, func() bool { return h.events.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, events, h.events.Drain())
	assert.Equal(t, uint64(2), h.listener.Stats().Events)
	assert.Equal(t, uint64(1), h.listener.Stats().EventSources)
}

func TestEventIntakeMultipleSources(t *testing.T) {
	h := startListener(t)

	const sources, perSource = 4, 25
	var wg sync.WaitGroup
	for s := range sources {
		conn := h.dial(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, protocol.WriteConnectionType(conn, protocol.EventSource))
			for i := range perSource {
				assert.NoError(t, protocol.WriteEvent(conn, protocol.ProbeEvent{ID: "w", ThreadID: uint64(s), Timestamp: uint64(i + 1)}))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return h.events.Len() == sources*perSource }, 2*time.Second, 5*time.Millisecond)

	// arrival order within one connection is preserved
	last := map[uint64]uint64{}
	for _, e := range h.events.Drain() {
		assert.Greater(t, e.Timestamp, last[e.ThreadID])
		last[e.ThreadID] = e.Timestamp
	}
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	h := startListener(t)
	conn := h.dial(t)

	require.NoError(t, protocol.WriteConnectionType(conn, protocol.EventSource))
	require.NoError(t, protocol.WriteEvent(conn, protocol.ProbeEvent{ID: "ok", Timestamp: 1}))
	_, err := conn.Write([]byte{3, 0x0a, 0x05, 'x'}) // string longer than the frame
	require.NoError(t, err)

	expectClosed(t, conn)
	assert.Equal(t, 1, h.events.Len(), "events before the bad frame are kept")
	assert.Equal(t, uint64(1), h.listener.Stats().DecodeErrors)
}

func TestUnknownConnectionType(t *testing.T) {
	h := startListener(t)
	conn := h.dial(t)

	_, err := conn.Write([]byte{7})
	require.NoError(t, err)

	expectClosed(t, conn)
	assert.Equal(t, uint64(1), h.listener.Stats().Rejected)
	assert.Empty(t, h.registry.list())
}

func TestObserverHandshake(t *testing.T) {
	t.Run("pure observer", func(t *testing.T) {
		h := startListener(t)
		conn := h.dial(t)
		require.NoError(t, protocol.WriteConnectionType(conn, protocol.Observer))
		require.NoError(t, protocol.WriteHandshake(conn, ""))

		require.Eventually(t, func() bool { return len(h.registry.list()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Empty(t, h.registry.list()[0].repo)
	})

	t.Run("silent observer", func(t *testing.T) {
		h := startListener(t)
		conn := h.dial(t)
		require.NoError(t, protocol.WriteConnectionType(conn, protocol.Observer))

		require.Eventually(t, func() bool { return len(h.registry.list()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Empty(t, h.registry.list()[0].repo)
	})

	t.Run("repository starts a session", func(t *testing.T) {
		started := make(chan struct{})
		sessions := &mockSessions{}
		sessions.On("Start", mock.Anything, "https://example.com/bench.git", "observer-1").
			Return(nil).
			Run(func(mock.Arguments) { close(started) })

		h := startListener(t, WithSessions(sessions))
		conn := h.dial(t)
		require.NoError(t, protocol.WriteConnectionType(conn, protocol.Observer))
		require.NoError(t, protocol.WriteHandshake(conn, "https://example.com/bench.git"))

		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("session was not started")
		}
		sessions.AssertExpectations(t)
		assert.Equal(t, "https://example.com/bench.git", h.registry.list()[0].repo)
	})

	t.Run("malformed handshake", func(t *testing.T) {
		h := startListener(t)
		conn := h.dial(t)
		require.NoError(t, protocol.WriteConnectionType(conn, protocol.Observer))
		_, err := conn.Write([]byte("repo#trailing"))
		require.NoError(t, err)

		expectClosed(t, conn)
		assert.Empty(t, h.registry.list())
	})
}

func TestListenerRunBeforeInit(t *testing.T) {
	l := NewListener(queue.New[protocol.ProbeEvent](0), &fakeRegistry{})
	assert.Error(t, l.Run(context.Background()))
	assert.Nil(t, l.Addr())
	assert.Equal(t, "listener", l.Name())
	assert.False(t, l.IsReady())
}

func TestListenerReadiness(t *testing.T) {
	h := startListener(t)
	require.Eventually(t, h.listener.IsReady, time.Second, time.Millisecond)

	h.cancel()
	require.NoError(t, <-h.done)
	assert.False(t, h.listener.IsReady())
	h.done <- nil // consumed again by cleanup
}

func TestListenerInitBadAddress(t *testing.T) {
	l := NewListener(queue.New[protocol.ProbeEvent](0), &fakeRegistry{}, WithAddress("256.0.0.1:bad"))
	assert.Error(t, l.Init())
}
