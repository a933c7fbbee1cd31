// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"errors"
	"testing"
)

func TestCheckHeapCleanAllocator(t *testing.T) {
	a := newTestAllocator(t)
	for i := 0; i < 10; i++ {
		if _, err := a.Malloc(uint32(8 + i*8)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.CheckHeap(CheckFull); err != nil {
		t.Fatal(err)
	}
}

func TestCheckHeapDetectsTagMismatch(t *testing.T) {
	a := newTestAllocator(t)
	ptr, err := a.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Free(ptr); err != nil {
		t.Fatal(err)
	}

	o := ptr.sub(wordSize)
	putWord(a.buf(), o.add(a.sizeAt(o)-wordSize), a.footerAt(o)+8) // corrupt the footer size field

	_, err = a.CheckHeap(CheckFast)
	if err == nil {
		t.Fatal("expected CheckHeap to report the corrupted footer")
	}
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T, want *CorruptionError", err)
	}
	if ce.Kind != BadTagMismatch {
		t.Fatalf("Kind = %v, want BadTagMismatch", ce.Kind)
	}
}

func TestCheckHeapDetectsAdjacentFreeBlocks(t *testing.T) {
	a := newTestAllocator(t)
	p1, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}

	// Free both blocks but bypass coalesce, simulating a missed merge.
	o1, o2 := p1.sub(wordSize), p2.sub(wordSize)
	a.writeFreeBlock(o1, a.sizeAt(o1), a.prevAllocAt(o1))
	a.insertFree(o1)
	a.writeFreeBlock(o2, a.sizeAt(o2), false)
	a.insertFree(o2)

	_, err = a.CheckHeap(CheckFast)
	if err == nil {
		t.Fatal("expected CheckHeap to report uncoalesced adjacent free blocks")
	}
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T, want *CorruptionError", err)
	}
	if ce.Kind != AdjacentFreeBlocks {
		t.Fatalf("Kind = %v, want AdjacentFreeBlocks", ce.Kind)
	}
}
