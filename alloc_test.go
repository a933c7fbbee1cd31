// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"flag"
	"math/rand"
	"testing"
)

var (
	fuzzOps  = flag.Int("ops", 2000, "number of operations in TestAllocatorFuzz")
	fuzzSeed = flag.Int64("seed", 1, "PRNG seed for TestAllocatorFuzz")
)

func TestMallocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	ptr, err := a.Malloc(100)
	if err != nil {
		t.Fatal(err)
	}
	if ptr.IsNil() {
		t.Fatal("Malloc(100) returned NilOffset")
	}

	buf := a.buf()
	payload := buf[ptr : ptr+100]
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := a.Free(ptr); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CheckHeap(CheckFull); err != nil {
		t.Fatal(err)
	}
}

func TestMallocZero(t *testing.T) {
	a := newTestAllocator(t)
	ptr, err := a.Malloc(0)
	if err != nil {
		t.Fatal(err)
	}
	if !ptr.IsNil() {
		t.Fatalf("Malloc(0) = %d, want NilOffset", ptr)
	}
}

func TestFreeNil(t *testing.T) {
	a := newTestAllocator(t)
	if err := a.Free(NilOffset); err != nil {
		t.Fatal(err)
	}
}

func TestDoubleFreeIsNoOp(t *testing.T) {
	a := newTestAllocator(t)
	ptr, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Free(ptr); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(ptr); err != nil {
		t.Fatalf("double free returned %v, want a no-op", err)
	}
}

func TestCoalesceAdjacentFreeBlocks(t *testing.T) {
	a := newTestAllocator(t)

	p1, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}
	p3, err := a.Malloc(32)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Free(p1); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(p3); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(p2); err != nil {
		t.Fatal(err)
	}

	stats, err := a.CheckHeap(CheckFull)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FreeBlocks != 1 {
		t.Fatalf("FreeBlocks = %d, want 1 (p1, p2 and p3 should have fully coalesced)", stats.FreeBlocks)
	}
}

func TestReallocGrowShrink(t *testing.T) {
	a := newTestAllocator(t)

	ptr, err := a.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	buf := a.buf()
	copy(buf[ptr:ptr.add(16)], []byte("0123456789abcdef"))

	ptr2, err := a.Realloc(ptr, 8)
	if err != nil {
		t.Fatal(err)
	}
	buf = a.buf()
	if string(buf[ptr2:ptr2.add(8)]) != "01234567" {
		t.Fatalf("Realloc did not preserve the original content, got %q", buf[ptr2:ptr2.add(8)])
	}

	ptr3, err := a.Realloc(ptr2, 4096)
	if err != nil {
		t.Fatal(err)
	}
	buf = a.buf()
	if string(buf[ptr3:ptr3.add(8)]) != "01234567" {
		t.Fatalf("Realloc did not preserve the original content, got %q", buf[ptr3:ptr3.add(8)])
	}

	if _, err := a.CheckHeap(CheckFull); err != nil {
		t.Fatal(err)
	}
}

func TestCalloc(t *testing.T) {
	a := newTestAllocator(t)
	ptr, err := a.Calloc(16, 4)
	if err != nil {
		t.Fatal(err)
	}
	buf := a.buf()
	for i, b := range buf[ptr : ptr+64] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}

	if _, err := a.Calloc(1<<31, 1<<31); err == nil {
		t.Fatal("expected an overflow error")
	}
}

// TestAllocatorFuzz drives Malloc/Free through random sequences,
// checking every structural invariant after each step.
func TestAllocatorFuzz(t *testing.T) {
	rnd := rand.New(rand.NewSource(*fuzzSeed))
	a := newTestAllocator(t)

	var live []Offset
	for i := 0; i < *fuzzOps; i++ {
		switch {
		case len(live) == 0 || rnd.Intn(3) != 0:
			size := uint32(1 + rnd.Intn(500))
			ptr, err := a.Malloc(size)
			if err != nil {
				t.Fatalf("op %d: Malloc(%d): %v", i, size, err)
			}
			if !ptr.IsNil() {
				live = append(live, ptr)
			}
		default:
			j := rnd.Intn(len(live))
			if err := a.Free(live[j]); err != nil {
				t.Fatalf("op %d: Free(%d): %v", i, live[j], err)
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if _, err := a.CheckHeap(CheckFull); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	for _, ptr := range live {
		if err := a.Free(ptr); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := a.CheckHeap(CheckFull)
	if err != nil {
		t.Fatal(err)
	}
	if stats.AllocBlocks != 0 {
		t.Fatalf("AllocBlocks = %d after freeing everything, want 0", stats.AllocBlocks)
	}
}
