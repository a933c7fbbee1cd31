// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// The large free list is an unbalanced binary search tree keyed by block
// size. Each distinct size present among free blocks owns exactly one tree
// node; additional free blocks of that same size are chained off the node
// through its HANGER field rather than inserted as further tree nodes, so
// the tree never carries duplicate keys.
//
// A hanger chain is singly linked forward via HANGER and, for splicing,
// backward via PARENT: a chain member's PARENT points at whichever node
// precedes it in the chain, be that the tree node itself (the chain head)
// or an earlier chain member. Tree nodes use PARENT for the ordinary BST
// parent pointer instead, so a block is never simultaneously a chain
// member and a tree node; deleteNode and CheckHeap rely on that distinction.

// findFit returns the smallest free block whose size is >= size, or
// NilOffset if the tree holds nothing large enough.
func (a *Allocator) findFit(size uint32) Offset {
	cur := a.bstRoot
	var best Offset
	for !cur.IsNil() {
		cs := a.sizeAt(cur)
		switch {
		case cs == size:
			return cur
		case cs < size:
			cur = a.rchildAt(cur)
		default:
			best = cur
			cur = a.lchildAt(cur)
		}
	}
	return best
}

// insertNode adds the free block o, of the given size, to the BST. If a
// node for that size already exists, o takes over the node's tree
// position and the displaced node becomes the new head of o's hanger
// chain; this keeps promotion on delete symmetric with insertion (see
// deleteNode). o's LCHILD/RCHILD/PARENT/HANGER words need not be
// initialized on entry: insertNode writes all four.
func (a *Allocator) insertNode(o Offset) {
	if a.bstRoot.IsNil() {
		a.setLChildAt(o, NilOffset)
		a.setRChildAt(o, NilOffset)
		a.setParentAt(o, NilOffset)
		a.setHangerAt(o, NilOffset)
		a.bstRoot = o
		return
	}

	size := a.sizeAt(o)
	cur := a.bstRoot
	for {
		cs := a.sizeAt(cur)
		switch {
		case size == cs:
			a.replaceTreeNode(cur, o)
			return
		case size < cs:
			if lc := a.lchildAt(cur); !lc.IsNil() {
				cur = lc
				continue
			}
			a.setLChildAt(cur, o)
		default:
			if rc := a.rchildAt(cur); !rc.IsNil() {
				cur = rc
				continue
			}
			a.setRChildAt(cur, o)
		}
		a.setParentAt(o, cur)
		a.setLChildAt(o, NilOffset)
		a.setRChildAt(o, NilOffset)
		a.setHangerAt(o, NilOffset)
		return
	}
}

// replaceTreeNode swaps the tree node old for new, which arrives with the
// same size: new inherits old's subtree and parent link, and old becomes
// the new head of new's hanger chain with its own child links cleared.
func (a *Allocator) replaceTreeNode(old, repl Offset) {
	a.setLChildAt(repl, a.lchildAt(old))
	a.setRChildAt(repl, a.rchildAt(old))
	if lc := a.lchildAt(repl); !lc.IsNil() {
		a.setParentAt(lc, repl)
	}
	if rc := a.rchildAt(repl); !rc.IsNil() {
		a.setParentAt(rc, repl)
	}
	a.setHangerAt(repl, old)
	a.bstReplaceInParent(old, repl)
	a.setParentAt(old, repl)
	a.setLChildAt(old, NilOffset)
	a.setRChildAt(old, NilOffset)
}

// deleteNode removes the free block o from the BST, wherever it currently
// sits: as a tree node with a hanger chain attached, as a hanger chain
// member, or as an ordinary tree node with no duplicates.
func (a *Allocator) deleteNode(o Offset) {
	// A hanger chain member's own HANGER field holds the next link in the
	// chain, which can be non-nil even for an interior member; that check
	// alone cannot tell a chain member from the tree node it hangs off
	// of. Whether o is itself a chain member is only decided by whether
	// its backward link (PARENT) is the predecessor's HANGER pointer, so
	// that test has to run first.
	if p := a.parentAt(o); !p.IsNil() && a.hangerAt(p) == o {
		a.spliceHangerBody(o, p)
		return
	}

	if hanger := a.hangerAt(o); !hanger.IsNil() {
		a.promoteHanger(o, hanger)
		return
	}

	a.deleteTreeNode(o)
}

// promoteHanger removes tree node o by installing the head of its hanger
// chain, hanger, in its place.
func (a *Allocator) promoteHanger(o, hanger Offset) {
	a.setLChildAt(hanger, a.lchildAt(o))
	a.setRChildAt(hanger, a.rchildAt(o))
	if lc := a.lchildAt(hanger); !lc.IsNil() {
		a.setParentAt(lc, hanger)
	}
	if rc := a.rchildAt(hanger); !rc.IsNil() {
		a.setParentAt(rc, hanger)
	}
	a.bstReplaceInParent(o, hanger)
}

// spliceHangerBody removes the non-head chain member o, whose backward
// link points at owner (either the tree node or an earlier chain member).
func (a *Allocator) spliceHangerBody(o, owner Offset) {
	next := a.hangerAt(o)
	a.setHangerAt(owner, next)
	if !next.IsNil() {
		a.setParentAt(next, owner)
	}
}

// bstReplaceInParent rewires o's parent (or bstRoot, if o had none) to
// point at replacement instead of o. replacement may be NilOffset.
func (a *Allocator) bstReplaceInParent(o, replacement Offset) {
	p := a.parentAt(o)
	switch {
	case p.IsNil():
		a.bstRoot = replacement
	case a.lchildAt(p) == o:
		a.setLChildAt(p, replacement)
	default:
		a.setRChildAt(p, replacement)
	}
	if !replacement.IsNil() {
		a.setParentAt(replacement, p)
	}
}

// deleteTreeNode removes o, an ordinary BST node with no hanger chain,
// using the standard two-children case: o is replaced by the rightmost
// node of its left subtree (equivalently, its in-order predecessor).
func (a *Allocator) deleteTreeNode(o Offset) {
	left := a.lchildAt(o)
	right := a.rchildAt(o)

	if left.IsNil() {
		a.bstReplaceInParent(o, right)
		return
	}
	if right.IsNil() {
		a.bstReplaceInParent(o, left)
		return
	}

	pred := left
	for {
		r := a.rchildAt(pred)
		if r.IsNil() {
			break
		}
		pred = r
	}

	if pred != left {
		predLeft := a.lchildAt(pred)
		predParent := a.parentAt(pred)
		a.setRChildAt(predParent, predLeft)
		if !predLeft.IsNil() {
			a.setParentAt(predLeft, predParent)
		}
		a.setLChildAt(pred, left)
		a.setParentAt(left, pred)
	}

	a.setRChildAt(pred, right)
	a.setParentAt(right, pred)
	a.bstReplaceInParent(o, pred)
}
