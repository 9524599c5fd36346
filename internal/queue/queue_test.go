// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueOrder(t *testing.T) {
	q := New[string](0)

	assert.Nil(t, q.Drain(), "empty queue drains nothing")

	assert.True(t, q.Push("a"))
	assert.True(t, q.Push("b"))
	assert.True(t, q.Push("c"))
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []string{"a"}, q.DrainBatch(1))
	assert.Equal(t, []string{"b", "c"}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, uint64(3), q.Pushed())
}

func TestQueueCapacity(t *testing.T) {
	q := New[int](2)

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3), "push must fail when the queue is full")
	assert.Equal(t, uint64(1), q.Dropped())

	q.DrainBatch(1)
	assert.True(t, q.Push(4))
	assert.Equal(t, []int{2, 4}, q.Drain())
	assert.Equal(t, uint64(3), q.Pushed())
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New[int](0)

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push(p*perProducer + i)
			}
		}()
	}

	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(got) < producers*perProducer {
			got = append(got, q.Drain()...)
		}
	}()

	wg.Wait()
	<-done

	assert.Len(t, got, producers*perProducer)
	assert.Equal(t, uint64(producers*perProducer), q.Pushed())

	// per producer order is preserved
	last := make(map[int]int)
	for _, v := range got {
		p := v / perProducer
		if prev, ok := last[p]; ok {
			assert.Greater(t, v, prev)
		}
		last[p] = v
	}
}
