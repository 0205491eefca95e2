// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mimgo

import "unsafe"

// fakeOS is a minimal OSAllocator backed by ordinary Go heap memory,
// standing in for osalloc.Mmap in tests that don't need a real syscall.
// Alignment is produced with the same over-allocate-and-trim arithmetic
// osalloc.Mmap uses, just over a make([]byte, ...) slab instead of an
// mmap'd region; Dealloc is pure bookkeeping since the Go GC reclaims the
// backing array once nothing still points into it.
type fakeOS struct {
	held  uintptr
	calls int

	// slabs pins every outstanding backing array: the allocator only holds
	// raw interior pointers into them, which must not be the slab's sole
	// reference when the GC runs.
	slabs map[uintptr][]byte
}

func (f *fakeOS) Alloc(size, align uintptr) unsafe.Pointer {
	f.calls++
	if align == 0 {
		align = 1
	}
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&buf[0]))
	front := (align - base%align) % align
	p := unsafe.Add(unsafe.Pointer(&buf[0]), front)
	if f.slabs == nil {
		f.slabs = make(map[uintptr][]byte)
	}
	f.slabs[uintptr(p)] = buf
	f.held += size
	return p
}

func (f *fakeOS) Dealloc(ptr unsafe.Pointer, size, align uintptr) {
	_ = align
	delete(f.slabs, uintptr(ptr))
	f.held -= size
}
