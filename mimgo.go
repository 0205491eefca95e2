// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mimgo implements a segregated free-list heap allocator modeled
// on mimalloc: a segment -> page -> free-list hierarchy with size-class
// binning, lazy page extension, and page retirement. It is single
// threaded; process-wide safety is a caller concern (see mutexwrap).
package mimgo

import "unsafe"

// OSAllocator is the only collaborator the core requires: a source of
// segment-sized, segment-aligned memory. Alloc may return nil on
// exhaustion; the core never retries and propagates the failure as a nil
// pointer from Alloc. Implementations must return memory aligned to the
// requested alignment — the core's O(1) segment lookup depends on it.
type OSAllocator interface {
	Alloc(size, align uintptr) unsafe.Pointer
	Dealloc(ptr unsafe.Pointer, size, align uintptr)
}

// Allocator is the public facade: a Heap plus the OSAllocator it draws
// segments from. The zero value is not usable; construct with
// WithOSAllocator.
type Allocator struct {
	heap *Heap
	os   OSAllocator
}

// WithOSAllocator constructs an empty allocator backed by os.
func WithOSAllocator(os OSAllocator) *Allocator {
	return &Allocator{heap: NewHeap(), os: os}
}

// Alloc returns size bytes aligned to align, or nil on OS exhaustion.
// align must be a power of two. size == 0 returns a valid, distinct
// pointer to a 1-byte block rather than a distinguished zero address.
func (a *Allocator) Alloc(size, align uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 {
		fail("Allocator.Alloc: align is not a power of two")
	}
	if size == 0 {
		size = 1
	}
	if align <= intPtrSize {
		return a.heap.Malloc(a.os, size)
	}
	return a.heap.MallocAligned(a.os, size, align)
}

// Free releases ptr, which must be nil or an address previously returned
// by Alloc on this Allocator. Freeing nil is a no-op.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	a.heap.Free(a.os, ptr)
}

// Collect retires every currently empty page and releases segments that
// become wholly unused as a result. Safe to call at any time.
func (a *Allocator) Collect() {
	a.heap.Collect(a.os)
}

// RegisterDeferredFree installs hook, invoked on the slow allocation path
// before any new page or segment is requested from the OS allocator.
func (a *Allocator) RegisterDeferredFree(hook DeferredFreeHook) {
	a.heap.RegisterDeferredFree(hook)
}

// Close runs Collect: it retires every empty page and releases the
// segments left unused; pages that still hold live blocks stay allocated.
// Go has no destructors, so callers that want the memory back
// deterministically must call this themselves (typically via defer).
func (a *Allocator) Close() {
	a.Collect()
}
