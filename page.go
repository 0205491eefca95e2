// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Page: a contiguous run of equally-sized blocks inside a segment.
//
// A page is always in exactly one of four places: its bin's queue, out of
// every queue while flagged full (until a free makes it non-full again),
// idle inside its owning small segment (inUse == false), or the empty-page
// singleton (shared, never linked into anything, free always nil). The
// fast alloc path (pageMallocFast) touches only block_size-independent
// fields and performs a single nil check, in the manner of the runtime's
// mcache fast path.

package mimgo

import "unsafe"

const (
	pageFlagHasAligned uint16 = 1 << 0
	pageFlagFull       uint16 = 1 << 1
)

type Page struct {
	next *Page
	prev *Page

	// seg is the segment hosting this page's payload; set whenever the
	// page is handed out (segment creation or findFreeSmallPage) and
	// cleared on reset. Lets retirePage and the free path find the
	// owning segment without a second lookup.
	seg *Segment

	inUse bool
	flags uint16 // has_aligned | full; zero value means neither set

	blockSize uintptr
	bin       uint8

	capacity uintptr
	reserved uintptr
	used     uintptr

	free      *Block
	localFree *Block

	// pageStart is the address of the first block's payload. Set once by
	// the segment that hosts this page and never moves for the page's
	// lifetime (pages are never relocated, only reset on retirement).
	pageStart unsafe.Pointer
}

// emptyPageSingleton is the read-only page every pages_free_direct slot
// points to until a real page is available for that word-size. Its free
// list is always nil, so malloc_fast always falls through to the slow path
// when it is consulted. No field of this page is ever mutated after init.
var emptyPageSingleton = Page{bin: binHuge + 1}

func emptyPage() *Page {
	return &emptyPageSingleton
}

// pageMallocFast unlinks the free-list head and returns its address, or
// nil if the page has no immediately-available block.
func pageMallocFast(page *Page) unsafe.Pointer {
	block := page.free
	if block == nil {
		return nil
	}
	page.free = block.next
	page.used++
	return unsafe.Pointer(block)
}

func (p *Page) immediatelyAvailable() bool {
	return p.free != nil
}

func (p *Page) allFree() bool {
	return p.used == 0
}

func (p *Page) isFull() bool {
	return p.flags&pageFlagFull != 0
}

func (p *Page) hasAligned() bool {
	return p.flags&pageFlagHasAligned != 0
}

// isMostlyUsed implements the "mostly used" half of should_retire's
// neighbor check: reserved - used < reserved / 8.
func (p *Page) isMostlyUsed() bool {
	return p.reserved-p.used < p.reserved/8
}

// retainedOnRetire is the size half of should_retire: pages below the
// large-size threshold are worth keeping around when their neighbors are
// busy, since reallocating them is relatively cheap either way only past
// that point.
func (p *Page) retainedOnRetire() bool {
	return p.blockSize < largeSizeMax
}

// freeCollect splices localFree onto the tail of free and clears
// localFree. Frees never touch free directly, so this is the only point
// where blocks returned by free() become available to malloc_fast again.
func (p *Page) freeCollect() {
	if p.localFree == nil {
		return
	}
	if p.free == nil {
		p.free = p.localFree
	} else {
		tail := p.free
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = p.localFree
	}
	p.localFree = nil
}

// extend threads additional free blocks starting at payload offset
// capacity*blockSize, up to min(reserved-capacity, max(maxExtendSize/
// blockSize, minExtend)) of them, and appends the resulting chain to the
// tail of free.
func (p *Page) extend() {
	remaining := p.reserved - p.capacity
	if remaining == 0 {
		return
	}
	n := maxExtendSize / p.blockSize
	if n < minExtend {
		n = minExtend
	}
	if n > remaining {
		n = remaining
	}

	start := add(p.pageStart, p.capacity*p.blockSize)
	var head, tail *Block
	for i := uintptr(0); i < n; i++ {
		b := (*Block)(add(start, i*p.blockSize))
		b.next = nil
		if head == nil {
			head = b
		} else {
			tail.next = b
		}
		tail = b
	}
	if p.free == nil {
		p.free = head
	} else {
		t := p.free
		for t.next != nil {
			t = t.next
		}
		t.next = head
	}
	p.capacity += n
}

// init may only be called on a freshly-cleared page descriptor. It records
// block size and bin, computes reserved, and performs the first extend.
func (p *Page) init(pageStart unsafe.Pointer, pageSize, blockSize uintptr) {
	if p.reserved != 0 {
		fail("page.init: already initialized")
	}
	p.pageStart = pageStart
	p.blockSize = blockSize
	p.bin = binForSize(blockSize)
	p.reserved = pageSize / blockSize
	p.extend()
}

// initHuge may only be called on a freshly-cleared page descriptor. A
// huge page always holds exactly one block: the segment that hosts it
// was sized (and possibly padded, to satisfy PAGE_HUGE_ALIGN) for this
// single allocation, so threading the padding slack as extra "capacity"
// via the ordinary pageSize/blockSize formula would fabricate blocks
// nothing requested. blockSize here is the caller's rounded request, not
// the (possibly larger) padded page size, so the invariant
// block_size >= requested size stays tight.
func (p *Page) initHuge(pageStart unsafe.Pointer, blockSize uintptr) {
	if p.reserved != 0 {
		fail("page.initHuge: already initialized")
	}
	p.pageStart = pageStart
	p.blockSize = blockSize
	p.bin = binHuge
	p.reserved = 1
	p.capacity = 1
	b := (*Block)(pageStart)
	b.next = nil
	p.free = b
}

// recoverBlockStart maps an interior pointer returned as an aligned
// allocation back to the block's true start, using the offset into the
// page payload modulo block size.
func (p *Page) recoverBlockStart(ptr unsafe.Pointer) unsafe.Pointer {
	offset := uintptr(ptr) - uintptr(p.pageStart)
	return add(p.pageStart, offset-offset%p.blockSize)
}

// freeBlockCore pushes p (after recovering its true block start, if the
// page has aligned allocations) onto localFree and decrements used. It
// does not touch bin queues or segments; the caller (Heap.freeBlock) handles
// retirement and queue membership, which require heap-level context.
func (p *Page) freeBlockCore(ptr unsafe.Pointer) {
	block := ptr
	if p.hasAligned() {
		block = p.recoverBlockStart(ptr)
	}
	b := (*Block)(block)
	b.next = p.localFree
	p.localFree = b
	p.used--
}

// reset clears a page descriptor back to its zero state, used when a page
// is retired and its slot returned to the owning segment.
func (p *Page) reset() {
	*p = Page{}
}
