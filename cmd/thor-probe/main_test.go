// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type recorder struct {
	calls   []string
	failAt  int
	stopErr error
}

func (r *recorder) Start(id string) error {
	r.calls = append(r.calls, "start "+id)
	if r.failAt > 0 && len(r.calls) == r.failAt {
		return errors.New("broken pipe")
	}
	return nil
}

func (r *recorder) Stop(id string) error {
	r.calls = append(r.calls, "stop "+id)
	return r.stopErr
}

func TestParseArgs(t *testing.T) {
	o, err := parseArgs([]string{"--count=3", "--id.prefix=bench", "--work=5ms"})
	require.NoError(t, err)
	assert.Equal(t, 3, o.count)
	assert.Equal(t, "bench", o.prefix)
	assert.Equal(t, 5*time.Millisecond, o.work)

	o, err = parseArgs(nil)
	require.NoError(t, err)
	assert.Len(t, o.prefix, 8, "random prefix")
	assert.Equal(t, 10, o.count)

	_, err = parseArgs([]string{"--count=0"})
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	t.Run("sends pairs in order", func(t *testing.T) {
		rec := &recorder{}
		fakeClock := testingclock.NewFakeClock(time.Now())
		o := options{prefix: "p", count: 2, work: time.Millisecond, pause: time.Millisecond}

		done := make(chan error, 1)
		go func() { done <- probe(context.Background(), log, rec, fakeClock, o) }()

		// work, pause, work
		for range 3 {
			require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
			fakeClock.Step(time.Millisecond)
		}
		require.NoError(t, <-done)
		assert.Equal(t, []string{"start p-0", "stop p-0", "start p-1", "stop p-1"}, rec.calls)
	})

	t.Run("send failure", func(t *testing.T) {
		rec := &recorder{failAt: 1}
		o := options{prefix: "p", count: 2}
		err := probe(context.Background(), log, rec, testingclock.NewFakeClock(time.Now()), o)
		assert.ErrorContains(t, err, "failed to send start p-0")
	})

	t.Run("stop failure", func(t *testing.T) {
		rec := &recorder{stopErr: errors.New("closed")}
		o := options{prefix: "p", count: 1}
		err := probe(context.Background(), log, rec, testingclock.NewFakeClock(time.Now()), o)
		assert.ErrorContains(t, err, "failed to send stop p-0")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := &recorder{}
		o := options{prefix: "p", count: 1, work: time.Hour}
		err := probe(ctx, log, rec, testingclock.NewFakeClock(time.Now()), o)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"start p-0"}, rec.calls)
	})
}
