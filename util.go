// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mimgo

import "unsafe"

// fail reports a violated internal invariant. It is this port's equivalent
// of the runtime's throw: these conditions indicate corrupted allocator
// state or caller misuse of a raw pointer, not a recoverable error.
func fail(msg string) {
	panic("mimgo: " + msg)
}

// add returns p offset by n bytes, mirroring the runtime's add() helper.
func add(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + n)
}
