// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mutexwrap supplies process-wide thread safety for mimgo.Allocator
// by serializing every public entry point behind a sync.Mutex. mimgo's core
// is deliberately single-threaded; this is the only synchronization
// layer in the system.
package mutexwrap

import (
	"sync"
	"unsafe"

	"github.com/segfault-dev/mimgo"
	"github.com/segfault-dev/mimgo/osalloc"
)

// Safe wraps a *mimgo.Allocator behind a mutex, exposing the identical
// public API with every call serialized and the lock released before
// returning.
type Safe struct {
	mu    sync.Mutex
	inner *mimgo.Allocator
}

// New wraps an existing allocator.
func New(inner *mimgo.Allocator) *Safe {
	return &Safe{inner: inner}
}

// NewMmapSafe bundles a fresh mimgo.Allocator backed by osalloc.Mmap with
// a mutex, the ready-made configuration most hosts want.
func NewMmapSafe() *Safe {
	return New(mimgo.WithOSAllocator(osalloc.NewMmap()))
}

// Alloc serializes mimgo.Allocator.Alloc.
func (s *Safe) Alloc(size, align uintptr) unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Alloc(size, align)
}

// Free serializes mimgo.Allocator.Free.
func (s *Safe) Free(ptr unsafe.Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Free(ptr)
}

// Collect serializes mimgo.Allocator.Collect.
func (s *Safe) Collect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Collect()
}

// RegisterDeferredFree serializes mimgo.Allocator.RegisterDeferredFree.
// The hook itself runs with the mutex held (it is invoked from inside
// Alloc's slow path), so a hook that calls back into FreeHandle.Free must
// not attempt to reacquire this lock.
func (s *Safe) RegisterDeferredFree(hook mimgo.DeferredFreeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.RegisterDeferredFree(hook)
}

// Close serializes mimgo.Allocator.Close.
func (s *Safe) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Close()
}
