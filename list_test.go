// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mimgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageListPushFront(t *testing.T) {
	var l pageList
	a, b, c := &Page{}, &Page{}, &Page{}

	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)

	assert.Equal(t, c, l.first)
	assert.Equal(t, a, l.last)
	assert.Same(t, b, l.first.next)
	assert.Same(t, c, l.first.next.prev)
}

func TestPageListPushBackReportsEmpty(t *testing.T) {
	var l pageList
	a, b := &Page{}, &Page{}

	wasEmpty := l.pushBack(a)
	assert.True(t, wasEmpty)

	wasEmpty = l.pushBack(b)
	assert.False(t, wasEmpty)

	assert.Equal(t, a, l.first)
	assert.Equal(t, b, l.last)
}

func TestPageListRemoveMiddle(t *testing.T) {
	var l pageList
	a, b, c := &Page{}, &Page{}, &Page{}
	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	wasFirst := l.remove(b)
	assert.False(t, wasFirst)
	assert.Same(t, c, a.next)
	assert.Same(t, a, c.prev)
	assert.Nil(t, b.next)
	assert.Nil(t, b.prev)
	assert.False(t, l.contains(b))
}

func TestPageListRemoveFirstUpdatesFirst(t *testing.T) {
	var l pageList
	a, b := &Page{}, &Page{}
	l.pushBack(a)
	l.pushBack(b)

	wasFirst := l.remove(a)
	assert.True(t, wasFirst)
	assert.Equal(t, b, l.first)
	assert.Nil(t, b.prev)
}

func TestPageListRemoveLastElement(t *testing.T) {
	var l pageList
	a := &Page{}
	l.pushFront(a)
	l.remove(a)
	assert.True(t, l.isEmpty())
	assert.Nil(t, l.last)
}

func TestPageListDoubleLinkPanics(t *testing.T) {
	var l pageList
	a := &Page{}
	l.pushFront(a)
	require.Panics(t, func() { l.pushFront(a) })
}

func TestSegmentListPushAndRemove(t *testing.T) {
	var l segmentList
	a, b, c := &Segment{}, &Segment{}, &Segment{}
	l.pushBack(a)
	l.pushBack(b)
	l.pushBack(c)

	assert.True(t, l.contains(b))
	l.remove(b)
	assert.False(t, l.contains(b))
	assert.Same(t, c, a.next)
	assert.Same(t, a, c.prev)

	l.remove(a)
	l.remove(c)
	assert.Nil(t, l.first)
	assert.Nil(t, l.last)
}
