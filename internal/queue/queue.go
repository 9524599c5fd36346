// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the FIFO hand-off used between the daemon's goroutines.
package queue

import (
	"sync"
	"sync/atomic"
)

// Queue is an in-memory FIFO safe for any number of producers. It is drained
// by a single consumer. A capacity of zero means unbounded.
type Queue[T any] struct {
	mu   sync.Mutex
	data []T
	cap  int

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue holding at most capacity items; 0 means unbounded
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{cap: capacity}
}

// Push appends v. It reports false, and drops v, when the queue is full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.data) >= q.cap {
		q.dropped.Add(1)
		return false
	}
	q.data = append(q.data, v)
	q.pushed.Add(1)
	return true
}

// Drain removes and returns every queued item in arrival order
func (q *Queue[T]) Drain() []T {
	return q.DrainBatch(0)
}

// DrainBatch removes and returns up to max items; max <= 0 drains everything
func (q *Queue[T]) DrainBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]T, max)
	copy(out, q.data[:max])

	var zero T
	for i := range max {
		q.data[i] = zero
	}
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Pushed returns the number of items ever accepted
func (q *Queue[T]) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of items rejected because the queue was full
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
