// Copyright 2025 The conc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alloc provides cache-line-aligned allocation for values that sit
// on concurrent hot paths.
//
// Two unrelated values that share a cache line pay for each other's writes:
// every store by one core invalidates the line in every other core's cache,
// even though the readers never touch the written bytes (false sharing).
// The fix is to place such values at line-aligned addresses so each one has
// the line to itself.
//
// The Go runtime aligns heap objects to their type's natural alignment, not
// to cache lines, so alignment has to be arranged manually: an Allocator
// over-allocates a byte backing and hands out a pointer offset to the next
// boundary. Interior pointers keep the whole backing reachable, so the
// returned value lives exactly as long as callers hold it; Deallocate is a
// no-op under the garbage collector and exists for contract symmetry with
// manually-managed consumers.
//
// The backing is pointer-free memory that the collector does not scan, so T
// must not contain pointers of any kind. The constructor enforces this with
// a one-time reflect walk and panics on violation; the error is in the
// choice of T, not in any runtime condition.
//
// Allocators are stateless: two allocators with the same boundary are
// interchangeable, and the zero-cost copy of one is as good as the
// original.
package alloc

import (
	"fmt"
	"reflect"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLine is the assumed false-sharing granularity for the current
// architecture, taken from the runtime-vetted padding size in x/sys/cpu.
// 64 bytes on amd64, 128 where the platform prescribes it.
const CacheLine = unsafe.Sizeof(cpu.CacheLinePad{})

// Allocator hands out values of T aligned to a fixed power-of-two boundary.
type Allocator[T any] struct {
	boundary uintptr
}

// CacheAligned returns an allocator aligning T to cache-line boundaries.
// It panics if T contains pointers (see the package comment).
func CacheAligned[T any]() Allocator[T] {
	return WithBoundary[T](CacheLine)
}

// WithBoundary returns an allocator with an explicit alignment boundary,
// for targets or data layouts where the cache-line default is wrong (for
// example 128-byte aligned DMA buffers, or deliberately tighter packing in
// tests). The boundary must be a power of two; it is raised to T's natural
// alignment if smaller. Panics if T contains pointers.
func WithBoundary[T any](boundary uintptr) Allocator[T] {
	if boundary == 0 || boundary&(boundary-1) != 0 {
		panic(fmt.Sprintf("alloc: boundary %d is not a power of two", boundary))
	}
	var zero T
	if natural := unsafe.Alignof(zero); boundary < natural {
		boundary = natural
	}
	// reflect.TypeOf on a value reports the dynamic type, which is nil for
	// a zero interface; going through *T keeps the static type visible so
	// interface instantiations are rejected like any other pointer carrier.
	if typ := reflect.TypeOf((*T)(nil)).Elem(); hasPointers(typ) {
		panic(fmt.Sprintf("alloc: %v contains pointers and cannot live in unscanned memory", typ))
	}
	return Allocator[T]{boundary: boundary}
}

// Boundary reports the alignment this allocator guarantees.
func (a Allocator[T]) Boundary() uintptr {
	return a.boundary
}

// Allocate returns a zeroed T at an address that is a multiple of the
// allocator's boundary.
func (a Allocator[T]) Allocate() *T {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		return new(T)
	}
	return (*T)(a.raw(size))
}

// AllocateSlice returns a zeroed slice of n values whose first element is
// boundary-aligned. Elements are contiguous at T's natural stride; pad T
// itself if every element must own its line.
func (a Allocator[T]) AllocateSlice(n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		return make([]T, n)
	}
	return unsafe.Slice((*T)(a.raw(uintptr(n)*size)), n)
}

// Deallocate releases p. Under the Go collector this is a no-op: dropping
// the last pointer is the release. The method exists so an Allocator can
// stand in for allocators over manually-managed memory.
func (a Allocator[T]) Deallocate(p *T) {
	_ = p
}

// raw allocates size bytes aligned to the boundary. The returned pointer is
// interior to a fresh byte backing, which the collector keeps alive for as
// long as the pointer (or anything derived from it) is reachable.
func (a Allocator[T]) raw(size uintptr) unsafe.Pointer {
	buf := make([]byte, size+a.boundary-1)
	base := unsafe.Pointer(unsafe.SliceData(buf))
	off := uintptr(0)
	if rem := uintptr(base) % a.boundary; rem != 0 {
		off = a.boundary - rem
	}
	return unsafe.Add(base, off)
}

// hasPointers reports whether values of t contain pointers the collector
// would need to scan.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		// Pointers, slices, maps, channels, funcs, interfaces, strings,
		// unsafe.Pointer; everything else carries a pointer somewhere.
		return true
	}
}
