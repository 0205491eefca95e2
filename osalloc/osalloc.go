// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package osalloc implements mimgo.OSAllocator on top of an anonymous
// mmap. mimgo's segment lookup recovers a segment's header by masking an
// interior pointer's low bits, so every region handed back here must be
// aligned to the requested alignment; POSIX mmap offers no way to request
// that directly, so Mmap over-maps by one alignment unit and trims the
// slack on either side.
package osalloc

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap allocates segment-sized regions via anonymous, private mmap.
type Mmap struct{}

// NewMmap returns an OS allocator backed by mmap(2).
func NewMmap() *Mmap {
	return &Mmap{}
}

// Alloc requests size bytes aligned to align from the OS, or returns nil
// if the underlying mmap call fails. align must be a power of two; size
// and align are both expected to be multiples of the page size by
// mimgo's core, but Alloc does not itself require that.
func (m *Mmap) Alloc(size, align uintptr) unsafe.Pointer {
	if align <= 1 {
		return mmapAnon(size)
	}

	raw, err := unix.Mmap(-1, 0, int(size+align), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + align - 1) &^ (align - 1)
	front := aligned - base
	back := align - front

	// unix.Munmap only accepts the whole slice unix.Mmap returned, so the
	// slack is trimmed with the munmap syscall on raw addresses.
	if front > 0 {
		if _, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, base, front, 0); errno != 0 {
			unix.Munmap(raw)
			return nil
		}
	}
	if back > 0 {
		if _, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, aligned+size, back, 0); errno != 0 {
			syscall.Syscall(syscall.SYS_MUNMAP, aligned, size, 0)
			return nil
		}
	}

	return unsafe.Pointer(aligned)
}

func mmapAnon(size uintptr) unsafe.Pointer {
	raw, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	return unsafe.Pointer(&raw[0])
}

// Dealloc releases the region previously returned by Alloc with the same
// size and align.
func (m *Mmap) Dealloc(ptr unsafe.Pointer, size, align uintptr) {
	_ = align
	_, _, _ = syscall.Syscall(syscall.SYS_MUNMAP, uintptr(ptr), size, 0)
}
