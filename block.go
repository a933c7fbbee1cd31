// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// This file implements the block layout: boundary-tag header/footer access,
// physical-neighbor navigation and the payload field overlays used by the
// small free list (smalllist.go) and the free-block BST (bst.go).
//
// A block at offset o occupies [o, o+size) where size is sizeOf(header(o)).
// Allocated blocks carry only a header; the footer word is reclaimed as
// payload. Free blocks carry a duplicate footer at [o+size-4, o+size),
// letting prevAt walk backwards without consulting any index.

// Field offsets within a free block's payload (i.e. relative to o+wordSize).
const (
	fieldPred   = 0 * wordSize // small free block: predecessor link
	fieldSucc   = 1 * wordSize // small free block: successor link
	fieldLChild = 0 * wordSize // large free block: left BST child
	fieldRChild = 1 * wordSize // large free block: right BST child
	fieldParent = 2 * wordSize // large free block: BST parent, or hanger owner
	fieldHanger = 3 * wordSize // large free block: same-size chain link
)

func (a *Allocator) buf() []byte { return a.heap.Bytes() }

func (a *Allocator) headerAt(o Offset) uint32 { return getWord(a.buf(), o) }

func (a *Allocator) setHeaderAt(o Offset, w uint32) { putWord(a.buf(), o, w) }

func (a *Allocator) footerAt(o Offset) uint32 {
	sz := a.sizeAt(o)
	return getWord(a.buf(), o.add(sz-wordSize))
}

func (a *Allocator) setFooterAt(o Offset, w uint32) {
	sz := sizeOf(w)
	putWord(a.buf(), o.add(sz-wordSize), w)
}

func (a *Allocator) sizeAt(o Offset) uint32      { return sizeOf(a.headerAt(o)) }
func (a *Allocator) allocAt(o Offset) bool       { return allocOf(a.headerAt(o)) }
func (a *Allocator) prevAllocAt(o Offset) bool   { return prevAllocOf(a.headerAt(o)) }

func (a *Allocator) setPrevAllocAt(o Offset) {
	a.setHeaderAt(o, a.headerAt(o)|prevAllocBit)
}

func (a *Allocator) clearPrevAllocAt(o Offset) {
	a.setHeaderAt(o, a.headerAt(o)&^prevAllocBit)
}

// nextAt returns the offset of the block physically following o. It is
// defined for every block, free or allocated, including the epilogue.
func (a *Allocator) nextAt(o Offset) Offset {
	return o.add(a.sizeAt(o))
}

// prevAt returns the offset of the block physically preceding o. The
// caller MUST first check prevAllocAt(o) == false; the predecessor's size
// is recovered from its footer, which only free blocks carry.
func (a *Allocator) prevAt(o Offset) Offset {
	prevFooter := getWord(a.buf(), o.sub(wordSize))
	return o.sub(sizeOf(prevFooter))
}

// writeUsedBlock stamps o as an allocated block of the given size,
// setting PREV_ALLOC from prevAlloc and always asserting the block's own
// ALLOC bit. No footer is written.
func (a *Allocator) writeUsedBlock(o Offset, size uint32, prevAlloc bool) {
	a.setHeaderAt(o, packHeader(size, true, prevAlloc))
}

// writeFreeBlock stamps o as a free block of the given size, writing both
// header and footer, with PREV_ALLOC taken from prevAlloc; the caller
// passes the physical predecessor's alloc state.
func (a *Allocator) writeFreeBlock(o Offset, size uint32, prevAlloc bool) {
	h := packHeader(size, false, prevAlloc)
	a.setHeaderAt(o, h)
	a.setFooterAt(o, h)
}

func (a *Allocator) payloadOffset(o Offset) Offset { return o.add(wordSize) }

func (a *Allocator) getField(o Offset, field uint32) Offset {
	return Offset(getWord(a.buf(), a.payloadOffset(o).add(field)))
}

func (a *Allocator) setField(o Offset, field uint32, v Offset) {
	putWord(a.buf(), a.payloadOffset(o).add(field), uint32(v))
}

func (a *Allocator) predAt(o Offset) Offset          { return a.getField(o, fieldPred) }
func (a *Allocator) setPredAt(o Offset, v Offset)     { a.setField(o, fieldPred, v) }
func (a *Allocator) succAt(o Offset) Offset          { return a.getField(o, fieldSucc) }
func (a *Allocator) setSuccAt(o Offset, v Offset)     { a.setField(o, fieldSucc, v) }

func (a *Allocator) lchildAt(o Offset) Offset      { return a.getField(o, fieldLChild) }
func (a *Allocator) setLChildAt(o Offset, v Offset) { a.setField(o, fieldLChild, v) }
func (a *Allocator) rchildAt(o Offset) Offset      { return a.getField(o, fieldRChild) }
func (a *Allocator) setRChildAt(o Offset, v Offset) { a.setField(o, fieldRChild, v) }
func (a *Allocator) parentAt(o Offset) Offset      { return a.getField(o, fieldParent) }
func (a *Allocator) setParentAt(o Offset, v Offset) { a.setField(o, fieldParent, v) }
func (a *Allocator) hangerAt(o Offset) Offset      { return a.getField(o, fieldHanger) }
func (a *Allocator) setHangerAt(o Offset, v Offset) { a.setField(o, fieldHanger, v) }
