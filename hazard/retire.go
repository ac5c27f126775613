// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import (
	"github.com/uselessgoddess/conc/internal/gid"
)

// sweepEvery is the orphan-sweep cadence: one live-goroutine enumeration
// per this many Retire calls, domain-wide. Enumeration stops the world
// briefly (~1ms per thousand goroutines), so it is amortized well below
// the cost of the retires that trigger it.
const sweepEvery = 256

// retired is one deferred-destruction record: ownership of ptr has moved
// from the retiring caller to the domain, which destroys it with free once
// no cell protects it. A nil free means dropping the record is the
// destruction.
type retired[T any] struct {
	ptr  *T
	free func(*T)
}

// retireQueue buffers one goroutine's retired records. Strictly private to
// its owner (no lock, no atomics) until the owner exits, at which point a
// sweep claims the whole queue (see sweepOrphans).
type retireQueue[T any] struct {
	records []retired[T]

	// reclaiming suppresses nested passes: a destructor that retires more
	// objects can cross the threshold while the queue is mid-pass.
	reclaiming bool
}

// Retire hands ptr to the domain for deferred destruction with the
// domain's configured deleter. The caller must have unlinked ptr from the
// shared structure first, and must retire each object exactly once.
//
// Retiring nil is a no-op.
func (d *Domain[T]) Retire(ptr *T) {
	d.RetireFunc(ptr, d.deleter)
}

// RetireFunc is Retire with an explicit destructor for this one object,
// overriding the domain deleter. free runs on whichever goroutine's
// reclamation pass confirms the object unprotected; it must not panic.
//
// A destructor may itself call Retire or RetireFunc, for example a node
// retiring the children it owns. Objects retired from inside a destructor
// are queued for a later pass, never the one in flight.
func (d *Domain[T]) RetireFunc(ptr *T, free func(*T)) {
	if ptr == nil {
		return
	}

	q := d.queue(gid.Get())
	q.records = append(q.records, retired[T]{ptr: ptr, free: free})
	d.pending.Add(1)

	// Threshold crossing triggers a pass over this queue only. Objects
	// still protected stay queued for the next trigger.
	if len(q.records) >= d.threshold {
		d.reclaim(q)
	}

	if d.retires.Add(1)%sweepEvery == 0 {
		d.sweepOrphans()
	}
}

// Flush runs a reclamation pass over the calling goroutine's queue and
// then sweeps queues orphaned by exited goroutines. Call it before a
// long-lived worker goes idle, or in tests that need deterministic
// reclamation; correctness never requires it.
func (d *Domain[T]) Flush() {
	if v, ok := d.queues.Load(gid.Get()); ok {
		d.reclaim(v.(*retireQueue[T]))
	}
	d.sweepOrphans()
}

// queue returns the retire queue owned by goroutine g, creating it on
// first use.
func (d *Domain[T]) queue(g int64) *retireQueue[T] {
	if v, ok := d.queues.Load(g); ok {
		return v.(*retireQueue[T])
	}
	q := &retireQueue[T]{records: make([]retired[T], 0, d.threshold)}
	v, _ := d.queues.LoadOrStore(g, q)
	return v.(*retireQueue[T])
}

// reclaim runs one pass over q: every record whose pointer no cell
// currently protects is destroyed and removed; protected ones stay for a
// later pass.
//
// The pass detaches the whole batch and gives q a fresh backing before
// touching any destructor. Destructors are allowed to retire further
// objects, which re-enters this queue: the new records land after the
// detached batch and wait for a later pass, a record is removed from the
// queue before its destructor runs, and the reclaiming flag turns a nested
// threshold crossing into a no-op. Together that keeps destroy-exactly-once
// and bounds the pass even for destructors that retire in chains.
//
// The caller must own q: be its goroutine, or have claimed it from a dead
// one.
func (d *Domain[T]) reclaim(q *retireQueue[T]) {
	if q.reclaiming {
		return
	}
	q.reclaiming = true
	defer func() { q.reclaiming = false }()

	batch := q.records
	q.records = make([]retired[T], 0, cap(batch))
	for _, r := range batch {
		if d.scanForHazard(r.ptr) {
			q.records = append(q.records, r)
			continue
		}
		d.pending.Add(-1)
		d.reclaimed.Add(1)
		if r.free != nil {
			r.free(r.ptr)
		}
	}
}

// sweepOrphans finds queues whose owning goroutine has exited, reclaims
// them, and adopts whatever is still protected into the calling
// goroutine's queue. This is the goroutine-exit flush: a worker that
// retires a few objects and exits below threshold leaks nothing; the next
// sweep on any goroutine picks its queue up.
//
// Liveness is decided against a point-in-time enumeration of goroutine
// IDs. Two facts make that sound: IDs are never reused, so a dead ID stays
// dead; and IDs grow monotonically, so any ID above the snapshot's maximum
// belongs to a goroutine younger than the snapshot and is treated as live.
// LoadAndDelete claims each dead queue exactly once, so concurrent sweeps
// cannot both destroy the same records.
func (d *Domain[T]) sweepOrphans() {
	snap := gid.Capture()
	self := gid.Get()

	var adopted []retired[T]
	d.queues.Range(func(k, _ any) bool {
		g := k.(int64)
		if g == self || g > snap.Max || snap.Live[g] {
			return true
		}
		v, ok := d.queues.LoadAndDelete(g)
		if !ok {
			return true // another sweep claimed it first
		}
		q := v.(*retireQueue[T])
		d.reclaim(q)
		adopted = append(adopted, q.records...)
		return true
	})

	if len(adopted) > 0 {
		q := d.queue(self)
		q.records = append(q.records, adopted...)
		if len(q.records) >= d.threshold {
			d.reclaim(q)
		}
	}
}
