// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/uselessgoddess/conc/internal/spin"
)

// Default tuning for DomainOptions fields left zero.
const (
	// defaultCaptureAttempts is how many full sweeps of the cell array a
	// capture performs before reporting exhaustion. A single sweep can miss
	// a cell released mid-sweep, so a handful of retries separated by spin
	// hints filters out that transient without masking a real undersized
	// domain for long.
	defaultCaptureAttempts = 4

	// thresholdFactor sets the default retire threshold to twice the cell
	// capacity: a reclamation pass over a queue of 2N pointers against N
	// cells frees at least N of them (no more than N can be protected at
	// once), so the pending set stays bounded by a small multiple of
	// capacity.
	thresholdFactor = 2
)

// DomainOptions configures a Domain beyond its capacity. The zero value of
// every optional field selects the documented default.
type DomainOptions[T any] struct {
	// Capacity is the number of hazard cells, which bounds the number of
	// simultaneously live handles. Required, must be positive.
	Capacity int

	// RetireThreshold is the per-goroutine queue length that triggers a
	// reclamation pass. Default: 2×Capacity.
	RetireThreshold int

	// CaptureAttempts is the number of full capture sweeps before
	// TryAcquire reports ErrCapacityExhausted. Default: 4.
	CaptureAttempts int

	// Deleter destroys objects passed to Retire. nil means dropping the
	// domain's reference is the disposal, leaving the object to the
	// garbage collector. RetireFunc overrides it per object.
	//
	// Deleters must not panic.
	Deleter func(*T)
}

// Domain owns the shared coordination state for all hazard pointers
// protecting one type T: the fixed cell array that readers publish into and
// reclaimers scan, and the routing of retired pointers to per-goroutine
// queues. A Domain is an explicit dependency: construct one and hand it to
// every consumer of the protected structure; independent structures of the
// same T get independent domains.
//
// All methods are safe for concurrent use. A Domain has no teardown: it is
// garbage once nothing references it, and any still-pending retired objects
// go with it.
type Domain[T any] struct {
	cells []cell[T]

	// Sentinel addresses for the RESERVED and RESET cell states. Private
	// allocations, so no caller-supplied pointer can ever equal them.
	reserved *T
	reset    *T

	deleter   func(*T)
	threshold int
	attempts  int

	// queues maps goroutine ID → *retireQueue[T]. A queue is written only
	// by its owning goroutine, or by whoever claims it (LoadAndDelete)
	// after the owner has exited.
	queues sync.Map

	retires   atomic.Uint64 // total Retire calls, drives the orphan sweep cadence
	pending   atomic.Int64  // retired, not yet destroyed
	reclaimed atomic.Uint64 // destroyed
	scans     atomic.Uint64 // hazard scans over the cell array
}

// NewDomain returns a domain with the given cell capacity and default
// tuning. Capacity bounds the peak number of live handles; size it for the
// worst case, exhaustion is not a recoverable condition.
func NewDomain[T any](capacity int) *Domain[T] {
	return NewDomainWithOptions(DomainOptions[T]{Capacity: capacity})
}

// NewDomainWithOptions returns a domain configured by opts.
// It panics if opts.Capacity is not positive.
func NewDomainWithOptions[T any](opts DomainOptions[T]) *Domain[T] {
	if opts.Capacity <= 0 {
		panic(fmt.Sprintf("hazard: domain capacity %d, must be positive", opts.Capacity))
	}
	var zero T
	if unsafe.Sizeof(zero) == 0 {
		// All allocations of a zero-size type share one address, so the
		// sentinel states could not be told apart from caller pointers.
		// There is nothing to protect in a zero-size object anyway.
		panic("hazard: zero-size types cannot be protected")
	}
	if opts.RetireThreshold <= 0 {
		opts.RetireThreshold = thresholdFactor * opts.Capacity
	}
	if opts.CaptureAttempts <= 0 {
		opts.CaptureAttempts = defaultCaptureAttempts
	}
	return &Domain[T]{
		cells:     make([]cell[T], opts.Capacity),
		reserved:  new(T),
		reset:     new(T),
		deleter:   opts.Deleter,
		threshold: opts.RetireThreshold,
		attempts:  opts.CaptureAttempts,
	}
}

// Capacity reports the number of cells, the bound on live handles.
func (d *Domain[T]) Capacity() int {
	return len(d.cells)
}

// captureCell claims a free cell for a new handle.
//
// Each attempt sweeps the array in index order and tries to move one FREE
// cell to RESERVED with a CAS; acquire-release semantics of the CAS carry
// the ownership handoff, so the new owner's later publishes are ordered
// after any prior owner's release. Failed sweeps are separated by spin
// hints to give a concurrent Release a chance to land.
func (d *Domain[T]) captureCell() (*cell[T], error) {
	var b spin.Backoff
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			b.Hint()
		}
		for i := range d.cells {
			c := &d.cells[i]
			if c.ptr.Load() == nil && c.ptr.CompareAndSwap(nil, d.reserved) {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("hazard: no free cell among %d after %d sweeps: %w",
		len(d.cells), d.attempts, ErrCapacityExhausted)
}

// releaseCell returns a cell to FREE. Called exactly once per capture, by
// the owning handle.
func (d *Domain[T]) releaseCell(c *cell[T]) {
	c.ptr.Store(nil)
}

// scanForHazard reports whether any cell currently protects ptr.
//
// Every slot is read with a sequentially consistent load, so the scan and
// all protection publishes fall into one total order: a protection
// published before this scan began is observed, which is what rules out a
// false "safe to destroy" for an object a reader is about to dereference.
// Sentinel states need no special casing: they can never equal ptr.
func (d *Domain[T]) scanForHazard(ptr *T) bool {
	d.scans.Add(1)
	for i := range d.cells {
		if d.cells[i].ptr.Load() == ptr {
			return true
		}
	}
	return false
}

// DomainStats is a point-in-time summary of a domain's activity.
// Fields are sampled independently; the snapshot is not atomic.
type DomainStats struct {
	Capacity  int    // cell count
	InUse     int    // cells currently checked out (any non-FREE state)
	Pending   int64  // retired objects awaiting destruction
	Reclaimed uint64 // objects destroyed so far
	Scans     uint64 // hazard scans performed over the cell array
}

// Stats samples the domain's counters, for capacity planning and tests.
func (d *Domain[T]) Stats() DomainStats {
	s := DomainStats{
		Capacity:  len(d.cells),
		Pending:   d.pending.Load(),
		Reclaimed: d.reclaimed.Load(),
		Scans:     d.scans.Load(),
	}
	for i := range d.cells {
		if d.cells[i].ptr.Load() != nil {
			s.InUse++
		}
	}
	return s
}
