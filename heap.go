// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Heap: the per-process owner of every page queue, the direct size->page
// table, and the pool of small segments that still have spare page slots.
// Drives the generic (slow-path) allocation route and all reclamation.
//
// Mirrors the shape of the runtime's mheap: a handful of size-indexed
// tables plus the logic to walk them, with no per-request heap-allocated
// bookkeeping of its own.

package mimgo

import "unsafe"

// Heap owns every page queue, the direct lookup table, and the pool of
// small segments with spare capacity. It is not internally synchronized;
// callers needing cross-goroutine safety wrap it (see mutexwrap).
type Heap struct {
	// pages[0] is unused (bins start at 1); pages[binHuge] queues huge
	// allocations, one page per segment, never consulted by the direct
	// table.
	pages [binHuge + 1]pageList

	// pagesFreeDirect[w] is the first page in the queue of the bin serving
	// word-size w, or emptyPage() if that queue is empty. The first page
	// may itself have no free block, in which case the fast path falls
	// through to the generic path. Indexed for w in [0, smallWsizeMax].
	pagesFreeDirect [smallWsizeMax + 1]*Page

	// smallFreeSegments holds every small segment with at least one idle
	// page slot, consulted before a fresh segment is requested.
	smallFreeSegments segmentList

	// segmentsByAddr maps a segment's masked base address to its
	// descriptor. mimalloc recovers the header by dereferencing the
	// masked address directly, because its descriptors live inside the
	// mmap'd region itself; this port keeps descriptors as ordinary Go
	// values (see segment.go) and uses this map as the O(1) stand-in for
	// that dereference.
	segmentsByAddr map[uintptr]*Segment

	deferredFreeHook DeferredFreeHook
	heartbeat        uint64
	inDeferredFree   bool
}

// NewHeap returns an empty heap: every direct slot points at the shared
// empty-page singleton, so the first allocation of every size falls
// through to the generic path.
func NewHeap() *Heap {
	h := &Heap{segmentsByAddr: make(map[uintptr]*Segment)}
	for i := range h.pagesFreeDirect {
		h.pagesFreeDirect[i] = emptyPage()
	}
	return h
}

// Malloc implements the fast path: for sizes within the direct table's
// domain, a single slot lookup and a single nil check; everything else
// falls to mallocGeneric.
func (h *Heap) Malloc(os OSAllocator, size uintptr) unsafe.Pointer {
	if size <= smallSizeMax {
		wsize := wsizeFromSize(size)
		if p := pageMallocFast(h.pagesFreeDirect[wsize]); p != nil {
			return p
		}
	}
	return h.mallocGeneric(os, size)
}

// MallocAligned requires align to be a power of two. For align no larger
// than a pointer, it is exactly Malloc. Otherwise, for small sizes, it
// first takes the direct page's head block if that block happens to be
// aligned; failing that, it over-allocates by align-1 bytes in the
// generic path and aligns the returned block,
// recording has_aligned on the hosting page so the free path can recover
// the true block start.
func (h *Heap) MallocAligned(os OSAllocator, size, align uintptr) unsafe.Pointer {
	if align&(align-1) != 0 {
		fail("MallocAligned: align is not a power of two")
	}
	if align <= intPtrSize {
		return h.Malloc(os, size)
	}

	if size <= smallSizeMax {
		wsize := wsizeFromSize(size)
		page := h.pagesFreeDirect[wsize]
		if block := page.free; block != nil {
			p := unsafe.Pointer(block)
			if uintptr(p)&(align-1) == 0 {
				page.free = block.next
				page.used++
				return p
			}
		}
	}

	if size >= ^uintptr(0)-align {
		return nil // overflow in size + align - 1
	}

	page := h.findOrAllocGeneric(os, size+align-1)
	if page == nil {
		return nil
	}
	page.flags |= pageFlagHasAligned
	p := pageMallocFast(page)
	if p == nil {
		fail("MallocAligned: page reported available but malloc_fast failed")
	}
	aligned := (uintptr(p) + align - 1) &^ (align - 1)
	return unsafe.Pointer(aligned)
}

// mallocGeneric is the slow path: fire the deferred-free hook, obtain a
// page with at least one available block, and unlink it.
func (h *Heap) mallocGeneric(os OSAllocator, size uintptr) unsafe.Pointer {
	page := h.findOrAllocGeneric(os, size)
	if page == nil {
		return nil
	}
	p := pageMallocFast(page)
	if p == nil {
		fail("mallocGeneric: page reported available but malloc_fast failed")
	}
	return p
}

// findOrAllocGeneric fires the deferred-free hook and returns a page with
// at least one available block for size, or nil on OS allocation failure.
func (h *Heap) findOrAllocGeneric(os OSAllocator, size uintptr) *Page {
	h.fireDeferredFree(os, false)

	if size <= largeSizeMax {
		return h.findFreePage(os, size)
	}
	return h.allocHugePage(os, size)
}

// findFreePage returns an immediately-available page for size's bin,
// extending, retiring, and scanning the bin's queue as needed, allocating
// a fresh page only once nothing else serves.
func (h *Heap) findFreePage(os OSAllocator, size uintptr) *Page {
	bin := binForSize(size)
	q := &h.pages[bin]
	if first := q.first; first != nil {
		first.freeCollect()
		if first.immediatelyAvailable() {
			return first
		}
	}
	return h.findFreeEx(os, q, bin)
}

// findFreeEx walks a bin's queue collecting local-frees, preferring
// fragmented pages over ones that could be recycled to the segment (up to
// 8 all-free pages are passed over; each one becomes the single retirement
// candidate and the previous candidate is retired), extending pages with
// unused reserved capacity, and flagging pages that are full (and cannot
// be extended) and taking them out of the queue.
func (h *Heap) findFreeEx(os OSAllocator, q *pageList, bin uint8) *Page {
	var retireCandidate *Page
	retireCount := 0

	for page := q.first; page != nil; {
		next := page.next
		page.freeCollect()

		if page.immediatelyAvailable() {
			if page.allFree() && retireCount < 8 {
				if retireCandidate != nil {
					h.retirePage(os, retireCandidate)
				}
				retireCandidate = page
				retireCount++
				page = next
				continue
			}
			if retireCandidate != nil {
				h.retirePage(os, retireCandidate)
			}
			return page
		}

		page.extend()
		if page.immediatelyAvailable() {
			if retireCandidate != nil {
				h.retirePage(os, retireCandidate)
			}
			return page
		}

		page.flags |= pageFlagFull
		if wasFirst := q.remove(page); wasFirst {
			h.refreshDirectForBin(bin)
		}
		page = next
	}

	if retireCandidate != nil {
		return retireCandidate
	}
	return h.allocPage(os, blockSizeForBin[bin])
}

// allocHugePage allocates a dedicated segment sized to round size up to a
// pointer-size multiple (and the huge-page alignment), hosting one page
// that serves exactly this one allocation.
func (h *Heap) allocHugePage(os OSAllocator, size uintptr) *Page {
	blockSize := roundUp(size, intPtrSize)
	seg := allocSegment(os, segmentKindHuge, blockSize)
	if seg == nil {
		return nil
	}
	h.segmentsByAddr[maskToSegmentBase(seg.payload)] = seg

	page := &seg.pages[0]
	page.initHuge(seg.pagePayloadAddr(0), blockSize)
	h.pages[binHuge].pushFront(page)
	return page
}

// allocPage obtains a fresh page sized for blockSize from a small, large,
// or huge segment as segmentPageAlloc decides, initializes it, and pushes
// it to the front of its bin's queue (LIFO: freshly created pages are
// preferred over pages that merely became non-full again). A segment
// that segmentPageAlloc routed to the huge case is initialized as a
// single dedicated block, mirroring allocHugePage, since it arrived via
// the same "block_size too large for a large segment" branch.
func (h *Heap) allocPage(os OSAllocator, blockSize uintptr) *Page {
	seg, page, idx := h.segmentPageAlloc(os, blockSize)
	if page == nil {
		return nil
	}
	if seg.kind == segmentKindHuge {
		page.initHuge(seg.pagePayloadAddr(idx), blockSize)
	} else {
		page.init(seg.pagePayloadAddr(idx), seg.pageUsableSize(idx), blockSize)
	}
	h.pages[page.bin].pushFront(page)
	h.refreshDirectForBin(page.bin)
	return page
}

// segmentPageAlloc routes to a small, large, or huge segment depending on
// blockSize, returning the hosting segment, the page descriptor, and the
// page's index within the segment (always 0 for large/huge).
func (h *Heap) segmentPageAlloc(os OSAllocator, blockSize uintptr) (*Segment, *Page, int) {
	switch {
	case blockSize < smallPageSize/8:
		return h.smallSegmentPageAlloc(os, blockSize)
	case blockSize < largeSizeMax-uintptr(unsafe.Sizeof(Segment{})):
		seg := allocSegment(os, segmentKindLarge, 0)
		if seg == nil {
			return nil, nil, 0
		}
		h.segmentsByAddr[maskToSegmentBase(seg.payload)] = seg
		return seg, &seg.pages[0], 0
	default:
		seg := allocSegment(os, segmentKindHuge, blockSize)
		if seg == nil {
			return nil, nil, 0
		}
		h.segmentsByAddr[maskToSegmentBase(seg.payload)] = seg
		return seg, &seg.pages[0], 0
	}
}

// smallSegmentPageAlloc pops a spare page slot from the first segment in
// smallFreeSegments, allocating a fresh small segment when none has spare
// capacity.
func (h *Heap) smallSegmentPageAlloc(os OSAllocator, blockSize uintptr) (*Segment, *Page, int) {
	_ = blockSize
	if h.smallFreeSegments.first == nil {
		seg := allocSegment(os, segmentKindSmall, 0)
		if seg == nil {
			return nil, nil, 0
		}
		h.segmentsByAddr[maskToSegmentBase(seg.payload)] = seg
		if seg.used < seg.capacity {
			h.smallFreeSegments.pushBack(seg)
		}
		return seg, &seg.pages[0], 0
	}

	seg := h.smallFreeSegments.first
	page, idx := seg.findFreeSmallPage()
	if page == nil {
		fail("smallSegmentPageAlloc: segment in smallFreeSegments has no free slot")
	}
	seg.used++
	if seg.used == seg.capacity {
		h.smallFreeSegments.remove(seg)
	}
	return seg, page, idx
}

// refreshDirectForBin recomputes pagesFreeDirect over the word-size range
// that bin serves, after bin's queue's first page changed. Bins outside
// the direct table's domain (huge allocations, and any bin whose
// representative block size maps to a word-size beyond smallWsizeMax) are
// never represented in the table and are skipped.
func (h *Heap) refreshDirectForBin(bin uint8) {
	if bin == binHuge {
		return
	}
	wsize := wsizeFromSize(blockSizeForBin[bin])
	if wsize > smallWsizeMax {
		return
	}
	rng := wsizeRangeInSameSmallBin[wsize]

	newVal := h.pages[bin].first
	if newVal == nil {
		newVal = emptyPage()
	}
	for w := uintptr(rng[0]); w < uintptr(rng[1]); w++ {
		h.pagesFreeDirect[w] = newVal
	}
}

// retirePage removes page from its bin's queue, clears its descriptor,
// and returns its slot to the owning segment, possibly releasing the
// segment to the OS allocator.
func (h *Heap) retirePage(os OSAllocator, page *Page) {
	bin := page.bin
	seg := page.seg
	if h.pages[bin].contains(page) {
		if wasFirst := h.pages[bin].remove(page); wasFirst {
			h.refreshDirectForBin(bin)
		}
	}
	page.reset()
	removeAPage(h, seg, os)
}

// Free locates the enclosing segment by masking the pointer's low bits,
// locates the page by index division, and prepends the block to that
// page's local free list. A pointer that masks to no known segment (nil,
// or a foreign pointer) is a tolerated no-op.
func (h *Heap) Free(os OSAllocator, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	seg := h.segmentsByAddr[maskToSegmentBase(ptr)]
	if seg == nil {
		return
	}
	page := seg.pageOfPtr(ptr)
	h.freeBlock(os, page, ptr)
}

// freeBlock: the flags==0 common case pushes directly onto localFree;
// otherwise has_aligned recovery and the full-page requeue are handled.
func (h *Heap) freeBlock(os OSAllocator, page *Page, ptr unsafe.Pointer) {
	if page.flags == 0 {
		b := (*Block)(ptr)
		b.next = page.localFree
		page.localFree = b
		page.used--
		if page.allFree() && h.shouldRetire(page) {
			h.retirePage(os, page)
		}
		return
	}

	page.freeBlockCore(ptr)

	if page.used == 0 {
		if h.shouldRetire(page) {
			h.retirePage(os, page)
		}
		return
	}
	if page.isFull() {
		page.flags &^= pageFlagFull
		bin := page.bin
		if wasEmpty := h.pages[bin].pushBack(page); wasEmpty {
			h.refreshDirectForBin(bin)
		}
	}
}

// shouldRetire implements should_retire: a page is retained (not retired)
// only if its block size is below the large-object threshold and both of
// its current queue neighbors are "mostly used" (reserved-used <
// reserved/8); a page at either edge of its queue (no neighbor on one
// side) is always retired.
func (h *Heap) shouldRetire(page *Page) bool {
	if !page.retainedOnRetire() {
		return true
	}
	if page.prev == nil || page.next == nil {
		return true
	}
	if page.prev.isMostlyUsed() && page.next.isMostlyUsed() {
		return false
	}
	return true
}

// Collect retires every currently all-free page across every bin,
// releasing segments that become wholly unused. Idempotent: a second
// call with no intervening allocations touches nothing.
func (h *Heap) Collect(os OSAllocator) {
	for bin := 1; bin <= binHuge; bin++ {
		q := &h.pages[bin]
		page := q.first
		for page != nil {
			next := page.next
			page.freeCollect()
			if page.allFree() {
				h.retirePage(os, page)
			}
			page = next
		}
	}
}

// RegisterDeferredFree installs hook, invoked on the slow allocation path
// before any new page or segment is requested from the OS.
func (h *Heap) RegisterDeferredFree(hook DeferredFreeHook) {
	h.deferredFreeHook = hook
}
