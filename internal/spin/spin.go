// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spin provides the low-power wait hint used by lock-free retry loops.
//
// A retry loop that loses a race (a CAS failure, a protection attempt
// invalidated by a concurrent writer) should tell the CPU and, eventually,
// the scheduler that it is making no progress. On hardware threads this is
// the pause/yield instruction; Go code cannot emit it portably, so the hint
// is built from two layers:
//
//  1. A short busy loop that keeps the goroutine on its P. Cheap, and on a
//     multicore machine the conflicting writer is usually already running.
//  2. runtime.Gosched() once the busy phase is exhausted, or immediately
//     when GOMAXPROCS is 1. With a single P the conflicting writer cannot
//     run until we yield, so spinning would only burn the quantum.
//
// The busy-loop length is tuned per target in spin_*.go build-tagged files.
//
// There is no exponential backoff and no OS-level sleep anywhere: the
// contention windows this package is used for are a handful of instructions
// wide, and callers rely on the hint never blocking.
package spin

import "runtime"

// activeSpins is the number of busy-loop rounds a Backoff performs before
// it starts yielding to the scheduler on every hint.
const activeSpins = 8

// Backoff is the per-loop spin state. The zero value is ready to use.
// A Backoff must not be shared between goroutines.
type Backoff struct {
	fails uint32
}

// Hint burns a short, bounded amount of CPU and returns. Call it once per
// failed attempt of a lock-free retry loop.
func (b *Backoff) Hint() {
	if b.fails < activeSpins && runtime.GOMAXPROCS(0) > 1 {
		b.fails++
		doSpin(spinRounds)
		return
	}
	runtime.Gosched()
}

// Reset forgets accumulated failures. Call it after the loop succeeds if
// the Backoff is reused for another operation.
func (b *Backoff) Reset() {
	b.fails = 0
}

// doSpin spins for n empty iterations. The gc compiler does not eliminate
// this loop, which is exactly what we want here.
//
//go:noinline
func doSpin(n int) {
	for n > 0 {
		n--
	}
}
