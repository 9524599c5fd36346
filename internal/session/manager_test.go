// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/thor/internal/distributor"
)

type builderFunc func(ctx context.Context, repository string) error

func (f builderFunc) BuildAndRun(ctx context.Context, repository string) error {
	return f(ctx, repository)
}

type fakeEvents struct {
	length   atomic.Int64
	pushed   atomic.Uint64
	lenCalls atomic.Int64
}

func (f *fakeEvents) Len() int {
	f.lenCalls.Add(1)
	return int(f.length.Load())
}

func (f *fakeEvents) Pushed() uint64 {
	return f.pushed.Load()
}

type mockObservers struct {
	mock.Mock
}

func (m *mockObservers) Remove(id string) bool {
	return m.Called(id).Bool(0)
}

const poll = time.Second

func newTestManager(t *testing.T, b Builder) (*Manager, *fakeEvents, *mockObservers, *testingclock.FakeClock) {
	t.Helper()
	fakeClock := testingclock.NewFakeClock(time.UnixMilli(0))
	events := &fakeEvents{}
	observers := &mockObservers{}
	m := NewManager(b, events, observers, WithClock(fakeClock), WithPollInterval(poll))
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, events, observers, fakeClock
}

// tick advances the clock by one poll and waits for the manager to look at the queue
func tick(t *testing.T, c *testingclock.FakeClock, events *fakeEvents) {
	t.Helper()
	require.Eventually(t, c.HasWaiters, time.Second, time.Millisecond)
	before := events.lenCalls.Load()
	c.Step(poll)
	require.Eventually(t, func() bool { return events.lenCalls.Load() > before }, time.Second, time.Millisecond)
}

func TestManagerReleasesObserverWhenQuiet(t *testing.T) {
	built := make(chan string, 1)
	m, events, observers, fakeClock := newTestManager(t, builderFunc(func(_ context.Context, repo string) error {
		built <- repo
		return nil
	}))
	observers.On("Remove", "observer-1").Return(true).Once()

	events.length.Store(2)
	events.pushed.Store(2)
	require.NoError(t, m.Start(context.Background(), "https://example.com/app.git", "observer-1"))
	assert.Equal(t, "https://example.com/app.git", <-built)

	// queue still holding events
	tick(t, fakeClock, events)
	observers.AssertNotCalled(t, "Remove", mock.Anything)

	// drained but one more event arrived since the previous poll
	events.length.Store(0)
	events.pushed.Store(3)
	tick(t, fakeClock, events)
	observers.AssertNotCalled(t, "Remove", mock.Anything)

	// quiet for a full poll
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(poll)
	require.Eventually(t, func() bool { return m.Stats().Completed == 1 }, time.Second, time.Millisecond)

	observers.AssertExpectations(t)
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, 0, stats.Active)
	assert.Empty(t, m.Sessions())
}

func TestManagerBuildFailureStillDrains(t *testing.T) {
	m, events, observers, fakeClock := newTestManager(t, builderFunc(func(context.Context, string) error {
		return errors.New("git clone failed")
	}))
	observers.On("Remove", "observer-7").Return(false).Once()

	require.NoError(t, m.Start(context.Background(), "bad-repo", "observer-7"))
	require.Eventually(t, func() bool {
		sessions := m.Sessions()
		return len(sessions) == 1 && sessions[0].State == StateDraining
	}, time.Second, time.Millisecond)

	s := m.Sessions()[0]
	assert.Equal(t, "bad-repo", s.Repository)
	assert.Equal(t, "observer-7", s.ObserverID)
	assert.Equal(t, "git clone failed", s.BuildError)
	assert.NotEmpty(t, s.ID)

	tick(t, fakeClock, events)
	require.Eventually(t, func() bool { return m.Stats().Completed == 1 }, time.Second, time.Millisecond)
	observers.AssertExpectations(t)
	assert.Equal(t, uint64(1), m.Stats().Failed)
}

func TestManagerSessionCancelled(t *testing.T) {
	m, _, observers, _ := newTestManager(t, builderFunc(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, "repo", "observer-1"))
	assert.Equal(t, 1, m.Stats().Active)

	cancel()
	require.Eventually(t, func() bool { return m.Stats().Active == 0 }, time.Second, time.Millisecond)
	observers.AssertNotCalled(t, "Remove", mock.Anything)
	assert.Equal(t, uint64(0), m.Stats().Completed)
}

func TestManagerShutdown(t *testing.T) {
	var running atomic.Int32
	m, _, observers, _ := newTestManager(t, builderFunc(func(ctx context.Context, _ string) error {
		running.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, m.Start(context.Background(), "repo-a", "a"))
	require.NoError(t, m.Start(context.Background(), "repo-b", "b"))
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, m.Shutdown())
	assert.Equal(t, 0, m.Stats().Active)
	observers.AssertNotCalled(t, "Remove", mock.Anything)

	assert.ErrorIs(t, m.Start(context.Background(), "repo-c", "c"), ErrShutdown)
}

func TestManagerStartValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t, builderFunc(func(context.Context, string) error { return nil }))
	assert.Error(t, m.Start(context.Background(), "", "observer"))
	assert.Equal(t, uint64(0), m.Stats().Started)
	assert.Equal(t, "session", m.Name())
}

func TestManagerReleasesOnlyItsOwnObserver(t *testing.T) {
	observers := distributor.NewObserverSet(time.Second, 1<<20, nil, nil)
	connect := func() (string, net.Conn) {
		server, client := net.Pipe()
		t.Cleanup(func() { _ = client.Close() })
		return observers.Add(server, "repo"), client
	}
	idA, clientA := connect()
	idB, clientB := connect()

	releaseB := make(chan struct{})
	builder := builderFunc(func(ctx context.Context, repo string) error {
		if repo == "repo-b" {
			select {
			case <-releaseB:
			case <-ctx.Done():
			}
		}
		return nil
	})

	fakeClock := testingclock.NewFakeClock(time.UnixMilli(0))
	events := &fakeEvents{}
	m := NewManager(builder, events, observers, WithClock(fakeClock), WithPollInterval(poll))
	t.Cleanup(func() { _ = m.Shutdown() })

	require.NoError(t, m.Start(context.Background(), "repo-b", idB))
	require.NoError(t, m.Start(context.Background(), "repo-a", idA))

	// session a finishes while session b is still building
	tick(t, fakeClock, events)
	require.Eventually(t, func() bool { return m.Stats().Completed == 1 }, time.Second, time.Millisecond)

	assert.False(t, observers.Contains(idA))
	assert.True(t, observers.Contains(idB))
	_, err := clientA.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "observer a is disconnected")

	require.NoError(t, clientB.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, err = clientB.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded, "observer b is still connected")

	close(releaseB)
	tick(t, fakeClock, events)
	require.Eventually(t, func() bool { return m.Stats().Completed == 2 }, time.Second, time.Millisecond)
	assert.False(t, observers.Contains(idB))
	assert.Zero(t, observers.Len())
}
