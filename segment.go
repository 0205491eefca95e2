// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Segment: a segment-sized, segment-aligned region obtained from the OS
// allocator, hosting either many small pages, one large page, or one huge
// page sized to a single request.
//
// mimalloc places the page descriptor array in-place at the front of the
// same mmap'd region it describes, and recovers a segment from an
// interior pointer by masking the pointer's low bits. This port keeps
// Segment and Page as ordinary Go-heap-allocated values instead of
// placing them inside OS-obtained memory: Go's garbage collector never
// scans memory it didn't allocate, so a *Page living inside raw mmap bytes
// would be reachable from Heap's queues but never traced, which is exactly
// the hazard the Go runtime itself avoids by keeping mspan descriptors
// in runtime-managed memory separate from the arena bytes they describe.
// The masking trick survives in spirit: maskToSegmentBase still derives
// the segment's base address by masking, and Heap keeps an O(1)
// map from that masked base to the *Segment, rather than finding the
// header by dereferencing the masked address directly. See DESIGN.md.
package mimgo

import "unsafe"

type segmentKind uint8

const (
	segmentKindSmall segmentKind = iota
	segmentKindLarge
	segmentKindHuge
)

// segmentInfoSize is the byte gap reserved ahead of page 0's payload. In
// mimalloc's layout that gap holds the header and the descriptor array;
// this port's descriptors live outside the segment's payload bytes, so
// only one maxAlignSize (16-byte) unit is reserved, which keeps page 0
// shorter than the other small pages as in mimalloc's layout.
const segmentInfoSize = uintptr(maxAlignSize)

type Segment struct {
	next *Segment
	prev *Segment

	kind segmentKind

	payload    unsafe.Pointer
	allocSize  uintptr
	allocAlign uintptr

	used     int
	capacity int

	segmentSize uintptr

	pages []Page
}

// maskToSegmentBase implements of_ptr's masking step: every segment is
// allocated at a SEGMENT_SIZE-aligned address, so clearing the low bits of
// any interior pointer yields that segment's base address in O(1).
func maskToSegmentBase(ptr unsafe.Pointer) uintptr {
	return uintptr(ptr) &^ segmentMask
}

// allocSegment requests a segment-size(ish), segment-aligned block from
// the OS allocator and initializes its header. The first page slot is
// always marked in-use, since a page is eagerly created alongside its
// segment. Returns nil if the OS allocator is out of memory.
func allocSegment(os OSAllocator, kind segmentKind, requestSize uintptr) *Segment {
	var size uintptr
	var capacity int
	switch kind {
	case segmentKindSmall:
		size = segmentSize
		capacity = smallPagesPerSegment
	case segmentKindLarge:
		size = segmentSize
		capacity = 1
	case segmentKindHuge:
		size = roundUp(requestSize+segmentInfoSize, pageHugeAlign)
		capacity = 1
	default:
		fail("allocSegment: unknown kind")
	}

	payload := os.Alloc(size, segmentSize)
	if payload == nil {
		return nil
	}

	seg := &Segment{
		kind:        kind,
		payload:     payload,
		allocSize:   size,
		allocAlign:  segmentSize,
		capacity:    capacity,
		used:        1,
		segmentSize: size,
		pages:       make([]Page, capacity),
	}
	seg.pages[0].inUse = true
	seg.pages[0].seg = seg
	return seg
}

// pagePayloadAddr returns the address of page idx's first block.
func (s *Segment) pagePayloadAddr(idx int) unsafe.Pointer {
	if s.kind != segmentKindSmall {
		return s.payload
	}
	if idx == 0 {
		return add(s.payload, segmentInfoSize)
	}
	return add(s.payload, uintptr(idx)*smallPageSize)
}

// pageUsableSize returns the bytes available for blocks in page idx.
func (s *Segment) pageUsableSize(idx int) uintptr {
	switch s.kind {
	case segmentKindSmall:
		if idx == 0 {
			return smallPageSize - segmentInfoSize
		}
		return smallPageSize
	case segmentKindLarge:
		return s.segmentSize - segmentInfoSize
	default: // huge: the whole segment is the one page, no header deducted
		return s.segmentSize
	}
}

// pageIndexOfPtr computes (p - base) / page_size, the page index within
// this segment for interior pointer ptr. A foreign pointer landing in page
// 0's info gap is indistinguishable from a valid pointer into page 0's
// payload — a known limitation, not a safety contract for foreign callers.
func (s *Segment) pageIndexOfPtr(ptr unsafe.Pointer) int {
	if s.kind != segmentKindSmall {
		return 0
	}
	off := uintptr(ptr) - uintptr(s.payload)
	if off < smallPageSize {
		return 0
	}
	idx := int(off / smallPageSize)
	if idx >= s.capacity {
		idx = s.capacity - 1
	}
	return idx
}

func (s *Segment) pageOfPtr(ptr unsafe.Pointer) *Page {
	return &s.pages[s.pageIndexOfPtr(ptr)]
}

// findFreeSmallPage linear-scans for an idle page slot, marks it in-use,
// and returns it along with its index. Returns (nil, -1) if the segment
// has no free slot.
func (s *Segment) findFreeSmallPage() (*Page, int) {
	for i := range s.pages {
		if !s.pages[i].inUse {
			s.pages[i].inUse = true
			s.pages[i].seg = s
			return &s.pages[i], i
		}
	}
	return nil, -1
}

// removeAPage releases page's slot back to seg, retiring and releasing
// the segment to the OS allocator once it holds no in-use pages, or
// registering it as having spare capacity once it drops below full.
func removeAPage(h *Heap, seg *Segment, os OSAllocator) {
	wasFull := seg.used == seg.capacity
	seg.used--

	if seg.used == 0 {
		if h.smallFreeSegments.contains(seg) {
			h.smallFreeSegments.remove(seg)
		}
		delete(h.segmentsByAddr, maskToSegmentBase(seg.payload))
		os.Dealloc(seg.payload, seg.allocSize, seg.allocAlign)
		return
	}

	if wasFull && seg.kind == segmentKindSmall {
		h.smallFreeSegments.pushBack(seg)
	}
}
