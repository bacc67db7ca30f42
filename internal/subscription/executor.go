// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package subscription

import (
	"sync"
)

// Executor runs deferred cache writes outside the caller's call stack.
type Executor interface {
	Go(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Go calls f(fn).
func (f ExecutorFunc) Go(fn func()) { f(fn) }

// Inline runs work immediately on the calling goroutine. Tests use it to
// make deferred writes deterministic.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// serialExecutor runs work in FIFO order on one goroutine, so writes for a
// key land in the order they were deferred.
type serialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
	idle    *sync.Cond
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{}
	e.idle = sync.NewCond(&e.mu)
	return e
}

func (e *serialExecutor) Go(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.queue = append(e.queue, fn)
	if !e.running {
		e.running = true
		go e.drain()
	}
}

func (e *serialExecutor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.idle.Broadcast()
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}

// Stop rejects new work and waits for queued work to finish.
func (e *serialExecutor) Stop() {
	e.mu.Lock()
	e.stopped = true
	for e.running {
		e.idle.Wait()
	}
	e.mu.Unlock()
}
