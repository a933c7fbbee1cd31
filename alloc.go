// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// prologueSize is the size, in bytes, of the heap's permanently allocated
// leading block. Its offset, zero, doubles as NilOffset.
const prologueSize = doubleWord

// defaultExtendSize is the minimum number of bytes extendHeap requests
// from the HeapProvider at a time, amortizing the cost of growing a heap
// one Malloc at a time against a slow or syscall-backed provider.
const defaultExtendSize = 1 << 12

// Allocator manages a single heap as a sequence of allocated and free
// blocks, indexing free blocks by size so Malloc can satisfy a request
// without scanning the whole heap. An Allocator is a value with an
// explicit constructor; it holds no process-wide state, so independent
// Allocators over independent HeapProviders never interfere with each
// other. It is not safe for concurrent use.
type Allocator struct {
	heap   HeapProvider
	logger Logger

	smallListHead Offset // head of the small (minBlockSize) free list
	bstRoot       Offset // root of the large free-block BST
}

// NewAllocator returns a new Allocator ready to serve Malloc/Free/Realloc/
// Calloc calls. By default it draws storage from an unbounded SliceHeap
// and does not log; use WithHeap and WithLogger to change either.
func NewAllocator(opts ...Option) (*Allocator, error) {
	a := &Allocator{}
	for _, opt := range opts {
		opt(a)
	}
	if a.heap == nil {
		a.heap = NewSliceHeap(0)
	}
	if err := a.initHeap(); err != nil {
		return nil, err
	}
	return a, nil
}

// initHeap lays down the prologue (a permanently allocated, zero-payload
// block occupying offset zero, which the rest of the package also reads
// as NilOffset) and the epilogue (a zero-size allocated header marking
// the current end of the heap).
func (a *Allocator) initHeap() error {
	if _, err := a.heap.Extend(prologueSize + wordSize); err != nil {
		return &OutOfMemoryError{Op: "NewAllocator", Requested: prologueSize + wordSize, Err: err}
	}
	buf := a.buf()
	h := packHeader(doubleWord, true, true)
	putWord(buf, 0, h)
	putWord(buf, wordSize, h)
	putWord(buf, prologueSize, packHeader(0, true, true))
	a.log("debug", "heap initialized")
	return nil
}

func (a *Allocator) epilogue() Offset { return a.heap.Hi().sub(wordSize) }

func (a *Allocator) writeEpilogue(prevAlloc bool) {
	a.setHeaderAt(a.epilogue(), packHeader(0, true, prevAlloc))
}

// insertFree adds a free block to whichever index its size belongs in.
func (a *Allocator) insertFree(o Offset) {
	if a.sizeAt(o) == minBlockSize {
		a.smallListInsert(o)
		return
	}
	a.insertNode(o)
}

// removeFree removes a free block from whichever index its size belongs
// in. The block's header must still carry its current (pre-removal) size.
func (a *Allocator) removeFree(o Offset) {
	if a.sizeAt(o) == minBlockSize {
		a.smallListRemove(o)
		return
	}
	a.deleteNode(o)
}

// findFree locates a free block able to hold asize bytes without
// unlinking it: an exact match in the small list if asize is exactly
// minBlockSize, falling back to a best-fit BST search otherwise (a larger
// BST block can always be split down to serve a minBlockSize request).
func (a *Allocator) findFree(asize uint32) Offset {
	if asize == minBlockSize && !a.smallListHead.IsNil() {
		return a.smallListHead
	}
	return a.findFit(asize)
}

// Malloc returns a pointer (an Offset into the heap) to a payload of at
// least size bytes, or an error if the heap could not be grown to
// satisfy the request. Malloc(0) returns NilOffset and no error.
func (a *Allocator) Malloc(size uint32) (Offset, error) {
	if size == 0 {
		return NilOffset, nil
	}

	asize := blockSize(size)
	fit := a.findFree(asize)
	if fit.IsNil() {
		var err error
		fit, err = a.extendHeap(asize)
		if err != nil {
			return NilOffset, err
		}
	} else {
		a.removeFree(fit)
	}

	a.place(fit, asize)
	ptr := a.payloadOffset(fit)
	a.log("debug", "malloc", "size", size, "ptr", uint32(ptr))
	return ptr, nil
}

// Free releases the block backing ptr, a value previously returned by
// Malloc, Realloc or Calloc. Freeing NilOffset, or a pointer whose block
// is already free (a double free), is a no-op. Other pointers not
// obtained from this Allocator are not validated and can corrupt the
// heap. The returned error is always nil.
func (a *Allocator) Free(ptr Offset) error {
	if ptr.IsNil() {
		return nil
	}

	o := ptr.sub(wordSize)
	if o.IsNil() || !a.allocAt(o) {
		return nil
	}

	size := a.sizeAt(o)
	prevAlloc := a.prevAllocAt(o)
	a.writeFreeBlock(o, size, prevAlloc)
	merged := a.coalesce(o)
	a.insertFree(merged)
	a.clearPrevAllocAt(a.nextAt(merged))
	a.log("debug", "free", "ptr", uint32(ptr))
	return nil
}

// coalesce merges o with whichever physically adjacent blocks are
// currently free, unlinking them from their free index first, and
// returns the offset of the (possibly merged) free block. It does not
// insert the result into any index; the caller does that once it knows
// the block's final size.
func (a *Allocator) coalesce(o Offset) Offset {
	prevFree := !a.prevAllocAt(o)
	next := a.nextAt(o)
	nextFree := !a.allocAt(next)

	switch {
	case !prevFree && !nextFree:
		return o
	case !prevFree && nextFree:
		a.removeFree(next)
		size := a.sizeAt(o) + a.sizeAt(next)
		a.writeFreeBlock(o, size, a.prevAllocAt(o))
		return o
	case prevFree && !nextFree:
		prev := a.prevAt(o)
		a.removeFree(prev)
		size := a.sizeAt(prev) + a.sizeAt(o)
		a.writeFreeBlock(prev, size, a.prevAllocAt(prev))
		return prev
	default:
		prev := a.prevAt(o)
		a.removeFree(prev)
		a.removeFree(next)
		size := a.sizeAt(prev) + a.sizeAt(o) + a.sizeAt(next)
		a.writeFreeBlock(prev, size, a.prevAllocAt(prev))
		return prev
	}
}

// place carves asize bytes of used block out of the free block at o,
// which MUST already be unlinked from every index. If the leftover
// space is large enough to be a block of its own, it is stamped free and
// reinserted; otherwise the whole block is handed out as allocated,
// internal fragmentation and all.
func (a *Allocator) place(o Offset, asize uint32) {
	csize := a.sizeAt(o)
	prevAlloc := a.prevAllocAt(o)
	remainder := csize - asize

	if remainder >= minBlockSize {
		a.writeUsedBlock(o, asize, prevAlloc)
		rest := o.add(asize)
		a.writeFreeBlock(rest, remainder, true)
		a.insertFree(rest)
		a.clearPrevAllocAt(a.nextAt(rest))
		return
	}

	a.writeUsedBlock(o, csize, prevAlloc)
	a.setPrevAllocAt(a.nextAt(o))
}

// extendHeap grows the heap by enough to satisfy a need-byte request,
// coalescing into the last block first if that block is free: a heap
// whose last block is free but too small to serve the request only needs
// to grow by the shortfall, not by a whole new block's worth of space.
func (a *Allocator) extendHeap(need uint32) (Offset, error) {
	epi := a.epilogue()
	epiPrevAlloc := a.prevAllocAt(epi)

	if !epiPrevAlloc {
		last := a.prevAt(epi)
		lastSize := a.sizeAt(last)
		a.removeFree(last)
		prevAlloc := a.prevAllocAt(last)

		shortfall := uint32(0)
		if need > lastSize {
			shortfall = need - lastSize
		}
		grow := growChunk(shortfall)
		if _, err := a.heap.Extend(grow); err != nil {
			return NilOffset, &OutOfMemoryError{Op: "Malloc", Requested: grow, Err: err}
		}

		a.writeFreeBlock(last, lastSize+grow+wordSize, prevAlloc)
		a.writeEpilogue(false)
		a.log("debug", "extend_heap", "need", need, "grown", grow, "merged_with_last_free", true)
		return last, nil
	}

	grow := growChunk(need)
	if _, err := a.heap.Extend(grow); err != nil {
		return NilOffset, &OutOfMemoryError{Op: "Malloc", Requested: grow, Err: err}
	}

	a.writeFreeBlock(epi, grow+wordSize, epiPrevAlloc)
	a.writeEpilogue(false)
	a.log("debug", "extend_heap", "need", need, "grown", grow, "merged_with_last_free", false)
	return epi, nil
}

func growChunk(need uint32) uint32 {
	if need < defaultExtendSize {
		need = defaultExtendSize
	}
	return align8(need)
}

// Realloc resizes the block backing ptr to hold at least newSize bytes,
// returning a (possibly different) pointer to the resized block's
// payload. Realloc(NilOffset, n) behaves like Malloc(n); Realloc(ptr, 0)
// behaves like Free(ptr) and returns NilOffset. In-place growth and
// shrinking are not attempted: every resize is a Malloc, a copy of the
// smaller of the two sizes, and a Free of the old block.
func (a *Allocator) Realloc(ptr Offset, newSize uint32) (Offset, error) {
	if ptr.IsNil() {
		return a.Malloc(newSize)
	}
	if newSize == 0 {
		return NilOffset, a.Free(ptr)
	}

	o := ptr.sub(wordSize)
	if o.IsNil() || !a.allocAt(o) {
		return NilOffset, &InvalidArgumentError{Op: "Realloc", Arg: int64(ptr), Msg: "pointer not allocated by this Allocator"}
	}
	oldPayload := a.sizeAt(o) - wordSize

	newPtr, err := a.Malloc(newSize)
	if err != nil {
		return NilOffset, err
	}
	buf := a.buf()
	copy(buf[newPtr:newPtr.add(minU32(oldPayload, newSize))], buf[ptr:ptr.add(oldPayload)])
	if err := a.Free(ptr); err != nil {
		return NilOffset, err
	}
	a.log("debug", "realloc", "old_ptr", uint32(ptr), "new_ptr", uint32(newPtr), "size", newSize)
	return newPtr, nil
}

// Calloc returns a pointer to a zeroed payload sized for n elements of
// size bytes each, or an InvalidArgumentError if n*size overflows.
func (a *Allocator) Calloc(n, size uint32) (Offset, error) {
	total, err := mulU32(n, size)
	if err != nil {
		return NilOffset, err
	}
	if total == 0 {
		return NilOffset, nil
	}

	ptr, err := a.Malloc(total)
	if err != nil {
		return NilOffset, err
	}

	buf := a.buf()
	payload := a.sizeAt(ptr.sub(wordSize)) - wordSize
	z := buf[ptr:ptr.add(payload)]
	for i := range z {
		z[i] = 0
	}
	a.log("debug", "calloc", "n", n, "size", size, "ptr", uint32(ptr))
	return ptr, nil
}

func minU32(x, y uint32) uint32 {
	if x < y {
		return x
	}
	return y
}

func mulU32(n, size uint32) (uint32, error) {
	if n == 0 || size == 0 {
		return 0, nil
	}
	total := uint64(n) * uint64(size)
	if total > uint64(^uint32(0)) {
		return 0, &InvalidArgumentError{Op: "Calloc", Arg: int64(n), Msg: "n*size overflows a 32-bit heap offset"}
	}
	return uint32(total), nil
}
