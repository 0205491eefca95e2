// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Deferred free: a cooperative callback letting a long-running host
// release blocks it is holding onto before the allocator reaches for more
// memory from the OS. Fired on the slow allocation path only; collect()
// never invokes it.

package mimgo

import "unsafe"

// DeferredFreeHook is invoked on the slow allocation path, before any new
// page or segment is requested. heartbeat is a 64-bit wrapping counter of
// slow-path calls; force is reserved for hosts that want to distinguish a
// routine call from an out-of-memory-imminent one (this allocator always
// passes false: only the generic allocation path fires the hook, with no
// memory-pressure signaling of its own).
type DeferredFreeHook func(handle FreeHandle, force bool, heartbeat uint64)

// FreeHandle is the short-lived capability a deferred-free hook receives
// to call back into Free without re-locking or re-entering the hook
// itself (the reentrancy guard lives on Heap, not on the handle).
type FreeHandle struct {
	heap *Heap
	os   OSAllocator
}

// Free releases ptr exactly as Heap.Free would.
func (f FreeHandle) Free(ptr unsafe.Pointer) {
	f.heap.Free(f.os, ptr)
}

// fireDeferredFree increments the heartbeat unconditionally, then invokes
// the registered hook (if any) unless already inside one — a hook that
// itself triggers a generic allocation must not re-enter.
func (h *Heap) fireDeferredFree(os OSAllocator, force bool) {
	h.heartbeat++
	if h.deferredFreeHook == nil || h.inDeferredFree {
		return
	}
	h.inDeferredFree = true
	defer func() { h.inDeferredFree = false }()
	h.deferredFreeHook(FreeHandle{heap: h, os: os}, force, h.heartbeat)
}
