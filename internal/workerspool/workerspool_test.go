// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart(t *testing.T) {
	// Every task blocks until all of them started, so they must run concurrently.
	const numTasks = 5
	pool := NewWithParallelism(3)
	var (
		started    atomic.Int32
		allStarted = make(chan struct{})
		wg         sync.WaitGroup
	)
	for range numTasks {
		wg.Add(1)
		pool.Start(func() {
			defer wg.Done()
			if started.Add(1) == numTasks {
				close(allStarted)
				return
			}
			<-allStarted
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for tasks to finish")
	}
	assert.Equal(t, int32(numTasks), started.Load())

	// Disabled: runs inline.
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	var ran bool
	pool.Start(func() { ran = true })
	assert.True(t, ran)
	assert.False(t, pool.TryStart(func() {}))
}

func TestTryStartAndWait(t *testing.T) {
	// One unit of parallelism gives slotsPerWorker slots.
	pool := NewWithParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for range slotsPerWorker {
		wg.Add(1)
		require.True(t, pool.TryStart(func() {
			defer wg.Done()
			<-release
		}))
	}
	assert.False(t, pool.TryStart(func() {}))
	assert.Equal(t, slotsPerWorker, pool.NumRunning())

	// A waiting caller lends its slot.
	waited := make(chan struct{})
	go func() {
		pool.Wait(&wg)
		close(waited)
	}()
	assert.Eventually(t, func() bool {
		var extra sync.WaitGroup
		extra.Add(1)
		if !pool.TryStart(extra.Done) {
			return false
		}
		extra.Wait()
		return true
	}, time.Second, time.Millisecond)
	close(release)
	<-waited
	assert.Eventually(t, func() bool { return pool.NumRunning() == 0 }, time.Second, time.Millisecond)
}

func TestParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := NewWithParallelism(parallelism)
		n := 1003
		visited := make([]int32, n)
		err := pool.ParallelFor(n, 100, func(start, end int) error {
			for i := start; i < end; i++ {
				atomic.AddInt32(&visited[i], 1)
			}
			return nil
		})
		require.NoError(t, err)
		for i, v := range visited {
			require.Equalf(t, int32(1), v, "parallelism=%d, element %d visited %d times", parallelism, i, v)
		}
		assert.Eventually(t, func() bool { return pool.NumRunning() == 0 }, time.Second, time.Millisecond)
	}

	pool := New()
	err := pool.ParallelFor(10, 2, func(start, end int) error {
		if start == 4 {
			return errors.New("chunk failed")
		}
		return nil
	})
	require.ErrorContains(t, err, "chunk failed")
	require.Error(t, pool.ParallelFor(10, 0, func(_, _ int) error { return nil }))
}
