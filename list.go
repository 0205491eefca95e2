// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Intrusive doubly-linked lists.
//
// Pages and segments carry their own prev/next links, so inserting into or
// removing from one of these lists touches no allocator memory of its own:
// insertion and removal are O(1) and allocation-free. A node in no list has
// both prev and next nil, but so does the sole element of a one-element
// list, so contains() and pushFront's already-linked guard also compare
// the node against the list's first element (a node belongs to at most
// one list at a time; mirrors mSpanList's contains() trick).
//
// Two concrete list types are used (pageList, segmentList) rather than one
// generic container: every other list-shaped structure in this codebase's
// lineage (mSpanList) is likewise written once per element type. pageList
// keeps live prev/next *Page neighbors (not an opaque slot) because the
// retirement heuristic ("mostly used neighbors") inspects them
// directly while the page is still queued.

package mimgo

type pageList struct {
	first *Page
	last  *Page
}

func (l *pageList) init() {
	l.first = nil
	l.last = nil
}

func (l *pageList) isEmpty() bool {
	return l.first == nil
}

func (l *pageList) contains(p *Page) bool {
	return p.next != nil || p.prev != nil || p == l.first
}

// pushFront inserts p at the head of the list.
func (l *pageList) pushFront(p *Page) {
	if p.next != nil || p.prev != nil || p == l.first {
		fail("pageList.pushFront: already linked")
	}
	p.prev = nil
	p.next = l.first
	if l.first != nil {
		l.first.prev = p
	} else {
		l.last = p
	}
	l.first = p
}

// pushBack inserts p at the tail of the list. Returns whether the list's
// first element changed (i.e. the list was empty).
func (l *pageList) pushBack(p *Page) bool {
	if p.next != nil || p.prev != nil {
		fail("pageList.pushBack: already linked")
	}
	wasEmpty := l.last == nil
	p.next = nil
	p.prev = l.last
	if l.last != nil {
		l.last.next = p
	} else {
		l.first = p
	}
	l.last = p
	return wasEmpty
}

// remove unlinks p from the list. Returns whether p was the list's first
// element (i.e. the first element changed).
func (l *pageList) remove(p *Page) bool {
	if p.prev == nil && l.first != p {
		fail("pageList.remove: not linked")
	}
	wasFirst := l.first == p
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		l.first = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		l.last = p.prev
	}
	p.next = nil
	p.prev = nil
	return wasFirst
}

type segmentList struct {
	first *Segment
	last  *Segment
}

func (l *segmentList) init() {
	l.first = nil
	l.last = nil
}

func (l *segmentList) contains(s *Segment) bool {
	return s.next != nil || s.prev != nil || s == l.first
}

func (l *segmentList) pushBack(s *Segment) {
	if s.next != nil || s.prev != nil {
		fail("segmentList.pushBack: already linked")
	}
	s.next = nil
	s.prev = l.last
	if l.last != nil {
		l.last.next = s
	} else {
		l.first = s
	}
	l.last = s
}

func (l *segmentList) remove(s *Segment) {
	if s.prev == nil && l.first != s {
		fail("segmentList.remove: not linked")
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.first = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.last = s.prev
	}
	s.next = nil
	s.prev = nil
}
