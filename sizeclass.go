// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Size classes.
//
// See mimgo.go for an overview. The derivation mirrors mimalloc's
// quasi-logarithmic schedule: four linear sub-bins per power of two, chosen
// so that rounding a request up to its bin's representative size wastes at
// most ~12.5%.

package mimgo

import (
	"math/bits"
	"unsafe"
)

// 64-bit platforms only; narrower pointer widths would need their own
// schedule constants and are rejected outright at startup.
const (
	intPtrSize  = 8
	intPtrShift = 3
)

func init() {
	if unsafe.Sizeof(uintptr(0)) != intPtrSize {
		fail("only 64-bit platforms are supported")
	}
}

const (
	smallPageShift = 13 + intPtrShift
	largePageShift = 6 + smallPageShift
	segmentShift   = largePageShift

	segmentSize = uintptr(1) << segmentShift
	segmentMask = segmentSize - 1

	smallPageSize = uintptr(1) << smallPageShift
	largePageSize = uintptr(1) << largePageShift

	smallPagesPerSegment = int(segmentSize / smallPageSize)
	largePagesPerSegment = int(segmentSize / largePageSize)

	smallWsizeMax = 128
	smallSizeMax  = uintptr(smallWsizeMax) << intPtrShift

	largeSizeMax  = largePageSize / 8
	largeWsizeMax = largeSizeMax >> intPtrShift

	binHuge = 64

	maxAlignSize = 16
	alignW       = maxAlignSize / intPtrSize // = 2 on 64-bit

	pageHugeAlign = 256 * 1024

	maxExtendSize = 4096
	minExtend     = 1
)

// wsizeFromSize returns ceil(size / pointer size), the word-size used to
// index the direct lookup table and drive the bin schedule.
func wsizeFromSize(size uintptr) uintptr {
	return (size + intPtrSize - 1) / intPtrSize
}

func roundUp(x, align uintptr) uintptr {
	if r := x % align; r != 0 {
		return x + (align - r)
	}
	return x
}

// binForSize maps a byte size to a bin index in [1, 64]. Bin 64 is reserved
// for huge allocations (size > largeSizeMax).
func binForSize(size uintptr) uint8 {
	return binForWsize(wsizeFromSize(size))
}

func binForWsize(wsize uintptr) uint8 {
	switch {
	case wsize <= 1:
		return 1
	case (alignW == 4 && wsize <= 4) || (alignW == 2 && wsize <= 8):
		return uint8(roundUp(wsize, 2))
	case alignW == 1 && wsize <= 8:
		return uint8(wsize)
	case wsize > largeWsizeMax:
		return binHuge
	default:
		w := wsize
		if alignW == 4 {
			w = roundUp(w, 4)
		}
		w--
		b := uintptr(bits.Len64(uint64(w))) - 1
		return uint8((b<<2)+((w>>(b-2))&3)) - 3
	}
}

// blockSizeForBin[b] is the representative (maximum) block size served by
// bin b, for b in [0, binHuge). Bin huge itself is never used to index this
// table: find_free_page only consults it for sizes <= largeSizeMax, which
// never bin to binHuge.
var blockSizeForBin [binHuge]uintptr

// wsizeRangeInSameSmallBin[w] gives the contiguous word-size range [l, r)
// that maps to the same bin as w, for w in [0, smallWsizeMax]; used to
// batch-update pagesFreeDirect when a bin's first page changes.
var wsizeRangeInSameSmallBin [smallWsizeMax + 1][2]uint8

func init() {
	for i := range blockSizeForBin {
		blockSizeForBin[i] = 1
	}
	for wsize := uintptr(1); wsize <= largeWsizeMax; wsize++ {
		blockSizeForBin[binForWsize(wsize)] = wsize * intPtrSize
	}

	for wsize := uintptr(1); wsize <= smallWsizeMax; {
		bin := binForWsize(wsize)
		l := wsize
		if wsize == 1 {
			l = 0
		}
		r := wsize + 1
		for r <= smallWsizeMax && binForWsize(r) == bin {
			r++
		}
		for i := l; i < r; i++ {
			wsizeRangeInSameSmallBin[i] = [2]uint8{uint8(l), uint8(r)}
		}
		wsize = r
	}
}

