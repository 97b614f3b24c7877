// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-limited pool of goroutines, used to run chunks of kernels and
// independent sub-functions in parallel.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// slotsPerWorker is how many goroutines the pool runs per unit of parallelism: tasks often block
// on each other, and a little oversubscription keeps the CPUs busy.
const slotsPerWorker = 2

// Pool limits the number of goroutines started to run tasks.
//
// Tasks that can't find a free slot either wait for one (Start) or are left for the caller
// to run inline (TryStart, ParallelFor).
type Pool struct {
	// parallelism is 0 for disabled, < 0 for unlimited.
	parallelism int

	mu      sync.Mutex
	freed   *sync.Cond // Broadcast when a task finishes or a caller goes to sleep.
	running int        // Tasks started by the pool and not finished.
	asleep  int        // Callers blocked in Wait, each lends its slot.
}

// New returns a Pool with one unit of parallelism per CPU.
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a Pool with the given parallelism: 0 disables parallelism and a negative
// value makes it unlimited.
func NewWithParallelism(parallelism int) *Pool {
	p := &Pool{parallelism: parallelism}
	p.freed = sync.NewCond(&p.mu)
	return p
}

// MaxParallelism returns the configured parallelism: 0 if disabled, negative if unlimited.
func (p *Pool) MaxParallelism() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parallelism
}

// SetMaxParallelism changes the parallelism. It is meant to be used during configuration, before tasks
// are started.
func (p *Pool) SetMaxParallelism(parallelism int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parallelism = parallelism
	p.freed.Broadcast()
}

// IsEnabled returns whether the pool runs tasks in other goroutines at all.
func (p *Pool) IsEnabled() bool {
	return p.MaxParallelism() != 0
}

// lockedHasSlot must be called with p.mu held.
func (p *Pool) lockedHasSlot() bool {
	switch {
	case p.parallelism < 0:
		return true
	case p.parallelism == 0:
		return false
	}
	return p.running < slotsPerWorker*p.parallelism+p.asleep
}

// lockedGo must be called with p.mu held, and with a free slot.
func (p *Pool) lockedGo(task func()) {
	p.running++
	go func() {
		defer func() {
			p.mu.Lock()
			p.running--
			p.freed.Broadcast()
			p.mu.Unlock()
		}()
		task()
	}()
}

// Start runs task in a new goroutine, blocking until a slot is free.
//
// With parallelism disabled the task is run inline, and Start only returns after it finishes: callers
// that rely on the task running concurrently must not use a disabled pool.
func (p *Pool) Start(task func()) {
	p.mu.Lock()
	if p.parallelism == 0 {
		p.mu.Unlock()
		task()
		return
	}
	for !p.lockedHasSlot() {
		p.freed.Wait()
	}
	p.lockedGo(task)
	p.mu.Unlock()
}

// TryStart runs task in a new goroutine if a slot is free, and reports whether it did.
// It's up to the caller to wait for the task to finish.
func (p *Pool) TryStart(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lockedHasSlot() {
		return false
	}
	p.lockedGo(task)
	return true
}

// Wait blocks on wg, lending the caller's slot to the pool meanwhile, so tasks that wait on
// tasks they started don't starve the pool.
func (p *Pool) Wait(wg *sync.WaitGroup) {
	p.mu.Lock()
	p.asleep++
	p.freed.Broadcast()
	p.mu.Unlock()

	wg.Wait()

	p.mu.Lock()
	p.asleep--
	p.mu.Unlock()
}

// NumRunning returns the number of tasks currently running in the pool's goroutines.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ParallelFor calls fn for the chunks [start, end) of at most chunkSize elements covering [0, n).
// Chunks that can't find a free slot are run by the caller.
//
// It returns after all chunks are done, with the first error returned by fn, if any.
func (p *Pool) ParallelFor(n, chunkSize int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		return errors.Errorf("ParallelFor: invalid chunkSize %d", chunkSize)
	}
	if n <= chunkSize || !p.IsEnabled() {
		return fn(0, n)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		chunk := func() {
			defer wg.Done()
			if err := fn(start, end); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}
		if !p.TryStart(chunk) {
			chunk()
		}
	}
	p.Wait(&wg)
	return firstErr
}
