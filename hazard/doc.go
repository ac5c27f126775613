// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hazard implements hazard-pointer based safe memory reclamation
// for lock-free data structures.
//
// The problem it solves: a reader of a lock-free structure loads a shared
// pointer and dereferences it with no lock held, while a writer may
// concurrently unlink that same object and want to dispose of it. Disposal
// must wait until no reader can still be touching the object. Hazard
// pointers solve this with published per-reader markers: before
// dereferencing, a reader publishes the address into a slot every reclaimer
// checks; a retired object is destroyed only once no slot holds its
// address.
//
// Under the Go collector the "destroy" step is usually the interesting
// part: objects returned to a sync.Pool, slabs of pointer-free memory, or
// off-heap allocations must not be reused while a reader holds a reference.
// Retire carries the destructor with the pointer, so the domain works for
// any disposal policy (and with no destructor at all, where unlinking from
// the pending set simply drops the last reference).
//
// # Components
//
//   - Domain[T]: owns a fixed array of cache-line-padded pointer slots
//     (cells) and the batched reclamation machinery. One Domain per
//     protected type per independent consumer; domains are explicit values,
//     never process-global.
//   - Pointer[T]: a handle owning one cell, implementing the
//     publish-then-verify protection protocol.
//   - Guard[T]: binds one protection to a scope via defer.
//
// # Usage
//
//	dom := hazard.NewDomain[node](64)
//
//	// Reader:
//	hp := dom.Acquire()
//	defer hp.Release()
//	n := hp.Protect(&head) // safe to dereference until Release/Reset
//
//	// Writer, after unlinking old from the structure:
//	dom.RetireFunc(old, func(n *node) { pool.Put(n) })
//
// # Protocol
//
// Protect publishes a candidate address into the owned cell and then
// re-reads the source; only if the source still holds the candidate is
// protection established. Go's sync/atomic operations are sequentially
// consistent, which gives the publish and the reclaimer's scan a single
// total order: either the scan sees the published address and keeps the
// object, or the publish came after the object was already unlinked, in
// which case the re-read observes the change and the reader retries. The
// retry loop spins with a bounded CPU hint and never blocks.
//
// Reclamation is amortized and thread-local: each goroutine's retired
// pointers accumulate in a private queue, scanned against the cell array
// only when the queue reaches its threshold, on an explicit Flush, or when
// a sweep finds the owning goroutine has exited.
//
// Destructors passed to Retire must not panic; a panic unwinds whichever
// goroutine happened to run the reclamation pass.
//
// The package is a reclamation substrate only: it is not a garbage
// collector (it never discovers garbage, it is told about it), and it
// provides no container; examples/ shows a Treiber stack built on top.
package hazard
