// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import "testing"

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := NewAllocator()
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestHeaderPackRoundTrip(t *testing.T) {
	cases := []struct {
		size             uint32
		alloc, prevAlloc bool
	}{
		{16, false, false},
		{16, true, false},
		{16, false, true},
		{24, true, true},
		{1 << 20, true, false},
	}
	for _, c := range cases {
		h := packHeader(c.size, c.alloc, c.prevAlloc)
		if got := sizeOf(h); got != c.size {
			t.Errorf("size=%d alloc=%v prevAlloc=%v: sizeOf=%d", c.size, c.alloc, c.prevAlloc, got)
		}
		if got := allocOf(h); got != c.alloc {
			t.Errorf("size=%d alloc=%v prevAlloc=%v: allocOf=%v", c.size, c.alloc, c.prevAlloc, got)
		}
		if got := prevAllocOf(h); got != c.prevAlloc {
			t.Errorf("size=%d alloc=%v prevAlloc=%v: prevAllocOf=%v", c.size, c.alloc, c.prevAlloc, got)
		}
	}
}

func TestBlockSize(t *testing.T) {
	cases := []struct{ requested, want uint32 }{
		{0, minBlockSize},
		{1, minBlockSize},
		{4, minBlockSize},
		{12, minBlockSize},
		{13, 24},
		{20, 24},
		{21, 32},
	}
	for _, c := range cases {
		if got := blockSize(c.requested); got != c.want {
			t.Errorf("blockSize(%d) = %d, want %d", c.requested, got, c.want)
		}
	}
}

func TestNavigation(t *testing.T) {
	a := newTestAllocator(t)

	ptr1, err := a.Malloc(8)
	if err != nil {
		t.Fatal(err)
	}
	ptr2, err := a.Malloc(8)
	if err != nil {
		t.Fatal(err)
	}

	o1 := ptr1.sub(wordSize)
	o2 := ptr2.sub(wordSize)

	if got := a.nextAt(o1); got != o2 {
		t.Fatalf("nextAt(block1) = %d, want %d", got, o2)
	}
	if !a.prevAllocAt(o2) {
		t.Fatalf("block2's PREV_ALLOC should be set, block1 is allocated")
	}
}
