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

func TestAllocSegmentSmall(t *testing.T) {
	os := &fakeOS{}
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)

	assert.Equal(t, smallPagesPerSegment, seg.capacity)
	assert.Equal(t, 1, seg.used)
	assert.True(t, seg.pages[0].inUse)
	assert.Same(t, seg, seg.pages[0].seg)
	assert.Equal(t, segmentSize, seg.allocSize)
	assert.Equal(t, segmentSize, seg.allocAlign)
}

func TestAllocSegmentHugeSizing(t *testing.T) {
	os := &fakeOS{}
	request := uintptr(3 * 1024 * 1024)
	seg := allocSegment(os, segmentKindHuge, request)
	require.NotNil(t, seg)

	assert.Equal(t, 1, seg.capacity)
	assert.Equal(t, uintptr(0), seg.segmentSize%pageHugeAlign)
	assert.GreaterOrEqual(t, seg.segmentSize, request)
}

func TestAllocSegmentNilOnOSFailure(t *testing.T) {
	seg := allocSegment(&alwaysFailOS{}, segmentKindSmall, 0)
	assert.Nil(t, seg)
}

func TestSegmentPagePayloadAddr(t *testing.T) {
	os := &fakeOS{}
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)

	p0 := seg.pagePayloadAddr(0)
	p1 := seg.pagePayloadAddr(1)

	assert.Equal(t, uintptr(seg.payload)+segmentInfoSize, uintptr(p0))
	assert.Equal(t, uintptr(seg.payload)+smallPageSize, uintptr(p1))
	assert.Equal(t, smallPageSize-segmentInfoSize, seg.pageUsableSize(0))
	assert.Equal(t, smallPageSize, seg.pageUsableSize(1))
}

func TestSegmentPageIndexOfPtr(t *testing.T) {
	os := &fakeOS{}
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)

	ptrInPage2 := unsafe.Pointer(uintptr(seg.payload) + 2*smallPageSize + 5)
	assert.Equal(t, 2, seg.pageIndexOfPtr(ptrInPage2))

	ptrInPage0 := unsafe.Pointer(uintptr(seg.payload) + segmentInfoSize + 3)
	assert.Equal(t, 0, seg.pageIndexOfPtr(ptrInPage0))
}

func TestMaskToSegmentBaseRecoversAlignedBase(t *testing.T) {
	os := &fakeOS{}
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)

	interior := unsafe.Pointer(uintptr(seg.payload) + 5*smallPageSize + 17)
	assert.Equal(t, uintptr(seg.payload), maskToSegmentBase(interior))
}

func TestFindFreeSmallPage(t *testing.T) {
	os := &fakeOS{}
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)

	page, idx := seg.findFreeSmallPage()
	require.NotNil(t, page)
	assert.NotEqual(t, 0, idx) // slot 0 is already in-use from segment creation
	assert.True(t, page.inUse)
	assert.Same(t, seg, page.seg)
}

func TestRemoveAPageReleasesSegmentWhenEmpty(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()
	seg := allocSegment(os, segmentKindLarge, 0)
	require.NotNil(t, seg)
	h.segmentsByAddr[maskToSegmentBase(seg.payload)] = seg

	before := os.held
	removeAPage(h, seg, os)
	assert.Less(t, os.held, before)
	_, ok := h.segmentsByAddr[maskToSegmentBase(seg.payload)]
	assert.False(t, ok)
}

func TestRemoveAPageRegistersSpareCapacity(t *testing.T) {
	os := &fakeOS{}
	h := NewHeap()
	seg := allocSegment(os, segmentKindSmall, 0)
	require.NotNil(t, seg)
	require.Less(t, seg.used, seg.capacity)

	// Fill every remaining slot so used == capacity.
	for seg.used < seg.capacity {
		page, _ := seg.findFreeSmallPage()
		require.NotNil(t, page)
		seg.used++
	}
	require.Equal(t, seg.capacity, seg.used)
	assert.False(t, h.smallFreeSegments.contains(seg))

	removeAPage(h, seg, os)
	assert.True(t, h.smallFreeSegments.contains(seg))
	assert.Equal(t, seg.capacity-1, seg.used)
}

type alwaysFailOS struct{}

func (alwaysFailOS) Alloc(size, align uintptr) unsafe.Pointer { return nil }
func (alwaysFailOS) Dealloc(ptr unsafe.Pointer, size, align uintptr) {}
