// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import (
	"sync/atomic"

	"github.com/uselessgoddess/conc/internal/spin"
)

// Pointer is a hazard-pointer handle: the exclusive owner of one cell in
// its domain for as long as it is held. A handle is acquired by a reader,
// used for any number of Protect/Reset cycles, and given back with Release
// (usually deferred immediately after Acquire).
//
// A handle belongs to one goroutine at a time. Handing it to another
// goroutine is fine; using it from two at once is not. Using a handle after
// Release is a caller error and fails with a nil dereference rather than
// anything graceful.
type Pointer[T any] struct {
	domain *Domain[T]
	cell   *cell[T]
}

// Acquire captures a cell and returns the owning handle. Exhaustion of the
// cell array is a capacity-contract violation by the caller (the domain
// was sized below peak concurrent handles), so Acquire treats it as fatal
// and panics. Use TryAcquire to degrade instead.
func (d *Domain[T]) Acquire() *Pointer[T] {
	hp, err := d.TryAcquire()
	if err != nil {
		panic(err)
	}
	return hp
}

// TryAcquire captures a cell and returns the owning handle, or an error
// matching ErrCapacityExhausted if no cell freed up across the configured
// capture sweeps.
func (d *Domain[T]) TryAcquire() (*Pointer[T], error) {
	c, err := d.captureCell()
	if err != nil {
		return nil, err
	}
	return &Pointer[T]{domain: d, cell: c}, nil
}

// Protect loads src and publishes the result until a published candidate
// survives re-verification, then returns it. The returned address is safe
// to dereference until the protection is replaced (the next Protect or
// ResetTo), cleared (Reset), or the handle is released.
//
// The loop terminates as soon as writers pause mutating src; between
// attempts it issues a bounded CPU spin hint and never sleeps or blocks.
func (hp *Pointer[T]) Protect(src *atomic.Pointer[T]) *T {
	ptr := src.Load()
	var b spin.Backoff
	for {
		cur, ok := hp.TryProtect(ptr, src)
		if ok {
			return ptr
		}
		ptr = cur
		b.Hint()
	}
}

// TryProtect attempts to establish protection of ptr, presumed to be a
// recent load of src. It publishes ptr into the owned cell and re-reads
// src: if the value still matches, protection holds: every reclamation
// scan starting after the publish sees it, so the object outlives this
// protection. On a miss the cell is set back to RESET and the freshly
// observed value is returned for the caller's next attempt.
//
// The publish and the re-read are both sequentially consistent. Nothing
// weaker works: with the publish allowed to order after a concurrent
// retire-and-scan, the scan could miss the protection and destroy the
// object between the caller's original load and its dereference.
func (hp *Pointer[T]) TryProtect(ptr *T, src *atomic.Pointer[T]) (*T, bool) {
	if ptr == nil {
		// Nothing to dereference, so nothing to protect. Publish RESET
		// rather than nil: a nil slot means FREE and the cell could be
		// stolen by a concurrent capture while still owned.
		hp.cell.ptr.Store(hp.domain.reset)
	} else {
		hp.cell.ptr.Store(ptr)
	}

	cur := src.Load()
	if cur == ptr {
		return ptr, true
	}

	hp.cell.ptr.Store(hp.domain.reset)
	return cur, false
}

// Reset clears the current protection without giving up the cell. The
// previously protected object may be destroyed any time after this.
func (hp *Pointer[T]) Reset() {
	hp.cell.ptr.Store(hp.domain.reset)
}

// ResetTo republishes protection of ptr directly, for callers that already
// know ptr cannot have been retired (for example, it is reachable from an
// object this handle still protects). ResetTo(nil) is Reset.
func (hp *Pointer[T]) ResetTo(ptr *T) {
	if ptr == nil {
		hp.Reset()
		return
	}
	hp.cell.ptr.Store(ptr)
}

// Empty reports whether the handle currently protects nothing: it has no
// cell, or its cell is in the RESET state.
func (hp *Pointer[T]) Empty() bool {
	if hp == nil || hp.cell == nil {
		return true
	}
	p := hp.cell.ptr.Load()
	return p == nil || p == hp.domain.reset
}

// Release clears any protection and returns the cell to the domain, after
// which the handle is empty and must not be used. Release is idempotent so
// it can be deferred unconditionally.
func (hp *Pointer[T]) Release() {
	if hp.cell != nil {
		hp.domain.releaseCell(hp.cell)
		hp.cell = nil
	}
}
