// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mimgo

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredFreeFiresOnSlowPath(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()

	var held []unsafe.Pointer
	var fired int
	h.RegisterDeferredFree(func(handle FreeHandle, force bool, heartbeat uint64) {
		fired++
		for _, p := range held {
			handle.Free(p)
		}
		held = held[:0]
	})

	for i := 0; i < 2000; i++ {
		p := h.Malloc(os, 32)
		require.NotNil(t, p)
		held = append(held, p)
	}

	assert.Greater(t, fired, 0, "hook never fired across 2000 allocations")
}

func TestDeferredFreeHeartbeatMonotone(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()

	var last uint64
	var sawDecrease bool
	h.RegisterDeferredFree(func(handle FreeHandle, force bool, heartbeat uint64) {
		if heartbeat < last {
			sawDecrease = true
		}
		last = heartbeat
	})

	for i := 0; i < 500; i++ {
		h.Malloc(os, 16)
	}
	assert.False(t, sawDecrease, "heartbeat must be non-decreasing across calls")
	assert.Greater(t, last, uint64(0))
}

func TestDeferredFreeReentrancyGuarded(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()

	depth := 0
	maxDepth := 0
	h.RegisterDeferredFree(func(handle FreeHandle, force bool, heartbeat uint64) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		// Triggers another slow-path allocation from inside the hook;
		// this inner call must skip invoking the hook again.
		h.Malloc(os, 8192)
		depth--
	})

	h.Malloc(os, 8192)
	assert.Equal(t, 1, maxDepth, "hook re-entered itself")
}

func TestDeferredFreeNotCalledByCollect(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()

	fired := false
	h.RegisterDeferredFree(func(handle FreeHandle, force bool, heartbeat uint64) {
		fired = true
	})

	p := h.Malloc(os, 16)
	require.NotNil(t, p)
	fired = false // ignore the firing from the allocation itself
	h.Free(os, p)
	h.Collect(os)
	assert.False(t, fired, "collect must never invoke the deferred-free hook")
}
