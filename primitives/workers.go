// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"runtime"
	"sync"
)

// WorkersPool bounds the parallelism of kernel execution on an Engine.
//
// Primitives are issued sequentially by their callers; the pool only
// parallelizes loops inside one kernel invocation, so it needs no queue,
// just a bound on concurrently running tasks.
type WorkersPool struct {
	// maxParallelism is a soft target on the limit of parallel work.
	// 0 disables parallelism (tasks run inline), < 0 means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // signaled whenever numRunning decreases
	numRunning int
}

// Initialize must be called before use. The default parallelism is one
// worker per CPU.
func (w *WorkersPool) Initialize() {
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
}

// MaxParallelism is the soft target for parallelism.
// 0 means disabled, negative means unlimited.
func (w *WorkersPool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the parallelism target. Only change it while no
// kernels are running; changing it mid-execution is undefined.
func (w *WorkersPool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// IsEnabled reports whether parallelism is enabled.
func (w *WorkersPool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// lockedIsFull returns whether all available workers are in use.
// Must be called with w.mu held.
func (w *WorkersPool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	}
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until a worker is available and runs task on it.
// If parallelism is disabled, it runs the task inline and returns when it
// finishes.
func (w *WorkersPool) WaitToStart(task func()) {
	if w.maxParallelism < 0 {
		go task()
		return
	}
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// ParallelFor runs fn(i) for i in [0, n), splitting the range into one
// chunk per available worker. It returns when every chunk finished.
//
// fn must not depend on cross-iteration ordering.
func (w *WorkersPool) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	numChunks := w.maxParallelism
	if numChunks < 0 || numChunks > n {
		numChunks = n
	}
	if numChunks <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	chunkSize := (n + numChunks - 1) / numChunks
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		})
	}
	wg.Wait()
}
