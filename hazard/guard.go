// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hazard

import "sync/atomic"

// Guard binds one protection to a lexical scope. It protects at
// construction, caches the protected address, and clears the protection in
// Release, which the caller defers, so the protection cannot outlive the
// scope on any exit path:
//
//	g := hp.Guard(&head)
//	defer g.Release()
//	if n := g.Get(); n != nil {
//		use(n)
//	}
//
// A Guard borrows the handle, it does not own it: the handle must stay
// alive and unused for other protections until the guard is released.
type Guard[T any] struct {
	hp  *Pointer[T]
	ptr *T
}

// Guard protects the current value of src through hp and returns the
// scope-bound guard holding the result.
func (hp *Pointer[T]) Guard(src *atomic.Pointer[T]) Guard[T] {
	return Guard[T]{hp: hp, ptr: hp.Protect(src)}
}

// Get returns the protected address: src's value at protection time, valid
// to dereference until Release. Nil if the source held nil or the guard was
// released.
func (g *Guard[T]) Get() *T {
	return g.ptr
}

// Value dereferences the protected address. It panics on a released guard
// or a nil source, the same way a direct dereference would.
func (g *Guard[T]) Value() T {
	return *g.ptr
}

// Ok reports whether the guard holds a non-nil protected address.
func (g *Guard[T]) Ok() bool {
	return g.ptr != nil
}

// Release clears the protection and the cached address. Idempotent;
// always defer it.
func (g *Guard[T]) Release() {
	if g.hp != nil {
		g.hp.Reset()
		g.hp = nil
		g.ptr = nil
	}
}
