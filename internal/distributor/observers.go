// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package distributor

import (
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// ObserverInfo describes a connected observer
type ObserverInfo struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote"`
	Repository string    `json:"repository,omitempty"`
	Connected  time.Time `json:"connected"`
	Batches    uint64    `json:"batches"`
	Bytes      uint64    `json:"bytes"`
}

type observer struct {
	info ObserverInfo
	conn net.Conn
}

// ObserverSet owns every observer connection. A connection is closed and
// forgotten the first time a write to it fails.
type ObserverSet struct {
	logger            *slog.Logger
	clock             clock.PassiveClock
	writeTimeout      time.Duration
	blockingThreshold int

	mu        sync.Mutex
	observers map[string]*observer

	// conns mirrors observers without mu so that CloseAll can interrupt a
	// blocking write in progress
	conns sync.Map

	pruned atomic.Uint64
}

// NewObserverSet creates an empty set. Writes of frames up to
// blockingThreshold bytes must complete within writeTimeout; larger frames
// block until the peer has drained them.
func NewObserverSet(writeTimeout time.Duration, blockingThreshold int, logger *slog.Logger, c clock.PassiveClock) *ObserverSet {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &ObserverSet{
		logger:            logger.With("service", "observers"),
		clock:             c,
		writeTimeout:      writeTimeout,
		blockingThreshold: blockingThreshold,
		observers:         make(map[string]*observer),
	}
}

// Add takes ownership of conn and returns the observer id
func (s *ObserverSet) Add(conn net.Conn, repository string) string {
	id := uuid.NewString()
	o := &observer{
		conn: conn,
		info: ObserverInfo{
			ID:         id,
			Remote:     conn.RemoteAddr().String(),
			Repository: repository,
			Connected:  s.clock.Now(),
		},
	}

	s.mu.Lock()
	s.observers[id] = o
	s.conns.Store(id, conn)
	s.mu.Unlock()

	s.logger.Debug("Observer added", "observer", id, "remote", o.info.Remote)
	return id
}

// Remove closes and forgets the observer with the given id. It reports
// whether the observer was still connected.
func (s *ObserverSet) Remove(id string) bool {
	s.mu.Lock()
	o, ok := s.observers[id]
	delete(s.observers, id)
	s.conns.Delete(id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.close(o)
	return true
}

// Contains reports whether the observer is still connected
func (s *ObserverSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observers[id]
	return ok
}

func (s *ObserverSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// List returns the connected observers ordered by connection time
func (s *ObserverSet) List() []ObserverInfo {
	s.mu.Lock()
	ret := make([]ObserverInfo, 0, len(s.observers))
	for _, o := range s.observers {
		ret = append(ret, o.info)
	}
	s.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Connected.Equal(ret[j].Connected) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].Connected.Before(ret[j].Connected)
	})
	return ret
}

// Pruned returns the number of observers dropped after a failed write
func (s *ObserverSet) Pruned() uint64 {
	return s.pruned.Load()
}

// Broadcast writes frame to every observer and drops those whose write
// fails. It returns the number of successful deliveries.
func (s *ObserverSet) Broadcast(frame []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocking := len(frame) > s.blockingThreshold
	delivered := 0
	for id, o := range s.observers {
		if err := s.write(o, frame, blocking); err != nil {
			s.logger.Warn("Dropping observer after failed write",
				"observer", id, "remote", o.info.Remote, "bytes", len(frame), "error", err)
			delete(s.observers, id)
			s.conns.Delete(id)
			s.pruned.Add(1)
			s.close(o)
			continue
		}
		o.info.Batches++
		o.info.Bytes += uint64(len(frame))
		delivered++
	}
	return delivered
}

func (s *ObserverSet) write(o *observer, frame []byte, blocking bool) error {
	deadline := time.Time{}
	if !blocking {
		deadline = time.Now().Add(s.writeTimeout)
	}
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	if _, err := o.conn.Write(frame); err != nil {
		return err
	}

	// back to the default; the next write sets its own deadline
	return o.conn.SetWriteDeadline(time.Time{})
}

func (s *ObserverSet) close(o *observer) {
	if err := o.conn.Close(); err != nil {
		s.logger.Debug("Observer close failed", "observer", o.info.ID, "error", err)
	}
}

// CloseAll closes every observer connection
func (s *ObserverSet) CloseAll() {
	s.conns.Range(func(id, conn any) bool {
		_ = conn.(net.Conn).Close()
		s.conns.Delete(id)
		return true
	})

	s.mu.Lock()
	observers := s.observers
	s.observers = make(map[string]*observer)
	s.mu.Unlock()

	for _, o := range observers {
		s.close(o)
	}
}
