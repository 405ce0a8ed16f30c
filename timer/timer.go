// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timer provides a free-running millisecond tick counter.
//
// It stands in for the hardware timer interrupt an embedded program would
// count with: the counter increments once per millisecond while running and
// is read and reset cheaply from any goroutine.
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3"
)

const resolution = time.Millisecond

// New returns a stopped counter at zero.
func New() *Timer {
	return &Timer{}
}

// Timer is a millisecond tick counter. All methods are safe for concurrent
// use.
type Timer struct {
	ticks atomic.Int64

	mu   sync.Mutex
	done chan struct{} // non-nil while running
}

func (t *Timer) String() string {
	return "Timer{1ms}"
}

// Start begins counting. Starting a running counter is a no-op; the count
// continues from where it stands.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return
	}
	done := make(chan struct{})
	t.done = done
	ticker := time.NewTicker(resolution)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.ticks.Add(1)
			case <-done:
				return
			}
		}
	}()
}

// Stop freezes the counter. The count is kept and resumes on the next Start.
// Stopping a stopped counter is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return
	}
	close(t.done)
	t.done = nil
}

// Reset sets the count back to zero without affecting whether the counter is
// running.
func (t *Timer) Reset() {
	t.ticks.Store(0)
}

// Elapsed returns the number of milliseconds counted since the last Reset,
// excluding time spent stopped.
func (t *Timer) Elapsed() int {
	return int(t.ticks.Load())
}

// IsRunning reports whether the counter is running.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Halt implements conn.Resource. It stops the counter.
func (t *Timer) Halt() error {
	t.Stop()
	return nil
}

var _ conn.Resource = &Timer{}
