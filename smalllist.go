// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// The small free list is a doubly linked list of every free block whose
// size is exactly minBlockSize. Its head is kept on the Allocator; list
// order carries no meaning and insertion is always at the head, mirroring
// an LIFO free list.
//
// PRED and SUCC are an overlay of the same payload words a large free
// block uses for LCHILD and RCHILD (see block.go); the two structures are
// never live for the same block at once since a block's size decides
// which index it belongs to.

// smallListInsert pushes o onto the head of the small free list. o MUST
// already be stamped as a free block of size minBlockSize.
func (a *Allocator) smallListInsert(o Offset) {
	head := a.smallListHead
	a.setPredAt(o, NilOffset)
	a.setSuccAt(o, head)
	if !head.IsNil() {
		a.setPredAt(head, o)
	}
	a.smallListHead = o
}

// smallListRemove unlinks o from the small free list, wherever in the
// list it currently sits. It fixes up both neighbors, including the cases
// where o is the head, the tail, or both (the sole element).
func (a *Allocator) smallListRemove(o Offset) {
	pred := a.predAt(o)
	succ := a.succAt(o)

	if pred.IsNil() {
		a.smallListHead = succ
	} else {
		a.setSuccAt(pred, succ)
	}

	if !succ.IsNil() {
		a.setPredAt(succ, pred)
	}
}

// smallListPop removes and returns the block at the head of the small
// free list, or NilOffset if the list is empty.
func (a *Allocator) smallListPop() Offset {
	head := a.smallListHead
	if head.IsNil() {
		return NilOffset
	}
	a.smallListRemove(head)
	return head
}
