// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"fmt"

	"github.com/cznic/mathutil"
)

// A HeapProvider owns the backing storage the allocator carves blocks out
// of. It models the single degree of freedom the allocator needs from its
// environment: a contiguous, append-only byte region that can be grown on
// demand. Extend is the only mutating method; everything the allocator
// otherwise does, it does directly against the slice returned by Bytes.
type HeapProvider interface {
	// Extend grows the heap by exactly n bytes and returns the offset at
	// which the new region begins. The returned offset equals Hi() as
	// observed immediately before the call, and Hi() afterwards is n
	// larger; the allocator places its new epilogue at Hi() minus one word.
	Extend(n uint32) (Offset, error)

	// Lo returns the offset of the first byte of the heap.
	Lo() Offset

	// Hi returns the offset one past the last byte of the heap.
	Hi() Offset

	// Bytes returns the live backing slice for the whole heap, [Lo():Hi()).
	// The slice is invalidated by the next call to Extend; callers must not
	// retain it across one.
	Bytes() []byte
}

// A HeapLimitError reports that a SliceHeap could not grow without
// exceeding its configured ceiling.
type HeapLimitError struct {
	Requested uint32
	Limit     uint32
}

func (e *HeapLimitError) Error() string {
	return fmt.Sprintf("memalloc: heap limit %d exceeded by request for %d more bytes", e.Limit, e.Requested)
}

// SliceHeap is the package's reference HeapProvider: a single growable
// []byte held entirely in process memory. Growth follows the doubling
// strategy MemFiler uses for its page table, amortizing the cost of
// frequent small extensions while still bounding worst-case waste.
//
// A SliceHeap is not safe for concurrent use; see the package doc.
type SliceHeap struct {
	buf   []byte
	limit uint32 // 0 means unbounded, short of the 32-bit offset ceiling
}

// NewSliceHeap returns an empty SliceHeap. If limit is nonzero, Extend
// fails once the heap would grow past limit bytes.
func NewSliceHeap(limit uint32) *SliceHeap {
	return &SliceHeap{limit: limit}
}

// Extend implements HeapProvider. The heap grows by exactly n bytes;
// Hi() afterwards equals the offset returned plus n. Spare backing
// capacity is over-allocated, doubling-style, so repeated small
// extensions amortize to O(1); that spare capacity is never exposed
// through Bytes or Hi.
func (h *SliceHeap) Extend(n uint32) (Offset, error) {
	at := Offset(len(h.buf))
	need := uint64(len(h.buf)) + uint64(n)
	if need > 1<<32 {
		return 0, &HeapLimitError{Requested: n, Limit: 1<<32 - 1}
	}
	if h.limit != 0 && need > uint64(h.limit) {
		return 0, &HeapLimitError{Requested: n, Limit: h.limit}
	}

	if uint64(cap(h.buf)) >= need {
		h.buf = h.buf[:need]
		return at, nil
	}

	grownCap := mathutil.Max(int(need), 2*cap(h.buf))
	if h.limit != 0 && uint64(grownCap) > uint64(h.limit) {
		grownCap = int(h.limit)
	}
	if uint64(grownCap) > 1<<32 {
		grownCap = 1 << 32
	}
	nb := make([]byte, need, grownCap)
	copy(nb, h.buf)
	h.buf = nb
	return at, nil
}

// Lo implements HeapProvider.
func (h *SliceHeap) Lo() Offset { return 0 }

// Hi implements HeapProvider.
func (h *SliceHeap) Hi() Offset { return Offset(len(h.buf)) }

// Bytes implements HeapProvider.
func (h *SliceHeap) Bytes() []byte { return h.buf }
