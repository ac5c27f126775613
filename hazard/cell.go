// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// cacheLineSize is the per-architecture false-sharing granularity, taken
// from the padding type x/sys/cpu maintains for exactly this purpose.
const cacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})

// cell is one publishable hazard slot. Every reader publishes into its own
// cell and every reclamation scan reads all of them, so neighboring cells
// must not share a cache line: each cell is padded to a full line, which
// keeps the hot atomic words at least a line apart regardless of where the
// backing array starts.
//
// The slot value encodes the cell state:
//
//	nil              FREE        unowned, capturable by CAS
//	domain.reserved  RESERVED    owned, captured but nothing published yet
//	domain.reset     RESET       owned, no current protection
//	anything else    PROTECTING  owned, value is the guarded address
//
// reserved and reset are addresses of two private objects allocated by the
// domain, so they can never compare equal to an address a caller protects
// or retires. That is what lets a reclamation scan treat "equals the
// retired pointer" as the one and only hazard condition, and what stops a
// capture sweep from stealing a checked-out cell that currently protects
// nothing.
type cell[T any] struct {
	ptr atomic.Pointer[T]
	// Sized via a concrete instantiation: Sizeof over a type-parameter
	// type is not a constant, but every atomic.Pointer is one word.
	_ [cacheLineSize - unsafe.Sizeof(atomic.Pointer[struct{}]{})]byte
}
