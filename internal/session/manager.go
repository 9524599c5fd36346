// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/thor/internal/service"
)

// EventQueue is the shared probe event queue the manager watches to decide
// that a process under test has gone quiet
type EventQueue interface {
	Len() int
	Pushed() uint64
}

// ObserverCloser disconnects an observer
type ObserverCloser interface {
	Remove(id string) bool
}

type State string

const (
	StateBuilding State = "building"
	StateDraining State = "draining"
)

// Session binds one observer to one launched process under test
type Session struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	ObserverID string    `json:"observer_id"`
	StartedAt  time.Time `json:"started_at"`
	State      State     `json:"state"`
	BuildError string    `json:"build_error,omitempty"`
}

// Stats counts sessions since start
type Stats struct {
	Started   uint64
	Completed uint64
	Failed    uint64
	Active    int
}

// Manager supervises processes under test. Each session builds and runs
// its process, waits until the event queue has been quiet for a full poll
// interval and then disconnects the observer that requested it.
type Manager struct {
	logger       *slog.Logger
	clock        clock.WithTicker
	pollInterval time.Duration

	builder   Builder
	events    EventQueue
	observers ObserverCloser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session

	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

var _ service.Shutdowner = (*Manager)(nil)

// ErrShutdown is returned by Start after Shutdown
var ErrShutdown = errors.New("session manager is shut down")

// NewManager creates a session manager
func NewManager(builder Builder, events EventQueue, observers ObserverCloser, applyOpts ...OptionFn) *Manager {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:       opts.logger.With("service", "session"),
		clock:        opts.clock,
		pollInterval: opts.pollInterval,
		builder:      builder,
		events:       events,
		observers:    observers,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
	}
}

func (m *Manager) Name() string {
	return "session"
}

// Start launches a session for repository bound to observerID and returns
// immediately. The session stops early when ctx is cancelled.
func (m *Manager) Start(ctx context.Context, repository, observerID string) error {
	if repository == "" {
		return fmt.Errorf("empty repository reference")
	}
	if m.ctx.Err() != nil {
		return ErrShutdown
	}

	s := &Session{
		ID:         uuid.NewString(),
		Repository: repository,
		ObserverID: observerID,
		StartedAt:  m.clock.Now(),
		State:      StateBuilding,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.started.Add(1)

	sctx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(ctx, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer stop()
		defer cancel()
		m.supervise(sctx, s)
	}()

	m.logger.Info("Session started", "session", s.ID, "repository", repository, "observer", observerID)
	return nil
}

func (m *Manager) supervise(ctx context.Context, s *Session) {
	defer m.forget(s.ID)
	logger := m.logger.With("session", s.ID)

	// build errors are not fatal; whatever the process reported is still
	// distributed before the observer is released
	if err := m.builder.BuildAndRun(ctx, s.Repository); err != nil {
		m.failed.Add(1)
		logger.Error("Failed to build and run repository", "repository", s.Repository, "error", err)
		m.update(s.ID, func(s *Session) { s.BuildError = err.Error() })
	}
	m.update(s.ID, func(s *Session) { s.State = StateDraining })

	if !m.waitQuiet(ctx) {
		logger.Info("Session cancelled", "repository", s.Repository)
		return
	}

	if m.observers.Remove(s.ObserverID) {
		logger.Info("Session finished, observer disconnected", "observer", s.ObserverID)
	} else {
		logger.Info("Session finished, observer already gone", "observer", s.ObserverID)
	}
	m.completed.Add(1)
}

// waitQuiet polls until the event queue is empty and nothing was pushed
// since the previous poll. It returns false when ctx is cancelled first.
func (m *Manager) waitQuiet(ctx context.Context) bool {
	ticker := m.clock.NewTicker(m.pollInterval)
	defer ticker.Stop()

	last := m.events.Pushed()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C():
			pushed := m.events.Pushed()
			if m.events.Len() == 0 && pushed == last {
				return true
			}
			last = pushed
		}
	}
}

func (m *Manager) update(id string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		fn(s)
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Sessions returns the active sessions ordered by start time
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	ret := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ret = append(ret, *s)
	}
	m.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].StartedAt.Before(ret[j].StartedAt)
	})
	return ret
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()

	return Stats{
		Started:   m.started.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Active:    active,
	}
}

// Shutdown cancels every session and waits for their supervisors
func (m *Manager) Shutdown() error {
	m.logger.Info("shutting down session manager")
	m.cancel()
	m.wg.Wait()
	return nil
}
