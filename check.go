// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"encoding/binary"
	"fmt"

	"github.com/TomTonic/multimap"
)

// CheckMode selects how much work CheckHeap does.
type CheckMode int

const (
	// CheckFast walks the physical block chain and both free indices,
	// verifying every boundary-tag and linkage invariant this package
	// relies on.
	CheckFast CheckMode = iota

	// CheckFull additionally builds an independent, structurally
	// unrelated cross-index of every free block (a multimap.MultiMap
	// keyed by size, bucketing a Set3 of offsets) and uses it to catch
	// index corruption a bug in the production walk itself would miss:
	// a block reachable twice from the small list or BST, for instance,
	// would otherwise just look like a longer free list to a checker
	// that only trusts its own traversal.
	CheckFull
)

// FreeHistogram counts free blocks by size.
type FreeHistogram map[uint32]int

// AllocStats summarizes one CheckHeap pass over a heap.
type AllocStats struct {
	TotalBytes  uint32
	AllocBlocks int
	AllocBytes  uint32
	FreeBlocks  int
	FreeBytes   uint32
	Histogram   FreeHistogram
}

// corrupt builds a CorruptionError, logs it at error level, and returns
// it: every CorruptionError CheckHeap produces passes through here so
// invariant violations are always logged before the checker returns.
func (a *Allocator) corrupt(kind CorruptionKind, offset Offset, detail string) *CorruptionError {
	err := &CorruptionError{Kind: kind, Offset: offset, Detail: detail}
	a.log("error", "heap corruption detected", "kind", kind.String(), "offset", uint32(offset), "detail", detail)
	return err
}

// CheckHeap verifies the heap's structural invariants: every block's
// boundary tags agree, PREV_ALLOC bits track the physical predecessor's
// allocation state, no two physically adjacent blocks are both free, the
// small list and BST index exactly the free blocks the physical walk
// finds and no others, the BST is ordered by size with same-size blocks
// confined to hanger chains, and hanger chains are internally consistent.
//
// It returns the first CorruptionError found rather than panicking or
// calling os.Exit: a library must never terminate its caller's process.
func (a *Allocator) CheckHeap(mode CheckMode) (*AllocStats, error) {
	stats := &AllocStats{Histogram: FreeHistogram{}}
	physicalFree := map[uint32]uint32{} // offset -> size, from the physical walk

	if err := a.walkPhysical(stats, physicalFree); err != nil {
		return nil, err
	}

	indexedFree := map[uint32]uint32{} // offset -> size, from the free indices

	var cross multimap.MultiMap[uint32]
	if mode == CheckFull {
		cross = multimap.New[uint32]()
	}

	if err := a.walkSmallList(indexedFree, cross, stats.Histogram); err != nil {
		return nil, err
	}
	if err := a.walkBST(indexedFree, cross, stats.Histogram); err != nil {
		return nil, err
	}

	if len(indexedFree) != len(physicalFree) {
		return nil, a.corrupt(DuplicateMembership, NilOffset, fmt.Sprintf("free indices hold %d blocks, physical walk found %d", len(indexedFree), len(physicalFree)))
	}
	for off, size := range physicalFree {
		isize, ok := indexedFree[off]
		if !ok {
			return nil, a.corrupt(BadSmallListLink, Offset(off), "free block is not reachable from any index")
		}
		if isize != size {
			return nil, a.corrupt(BadTagMismatch, Offset(off), "indexed size disagrees with physical header size")
		}
	}

	if cross != nil {
		for _, key := range cross.Keys() {
			size := decodeSizeKey(key)
			if stats.Histogram[size] == 0 {
				return nil, a.corrupt(DuplicateMembership, NilOffset, fmt.Sprintf("independent index has a bucket for size %d absent from the histogram", size))
			}
		}
	}

	return stats, nil
}

// walkPhysical traverses every block from the first real block to the
// epilogue by physical adjacency, independent of either free index.
func (a *Allocator) walkPhysical(stats *AllocStats, free map[uint32]uint32) error {
	o := Offset(prologueSize)
	epi := a.epilogue()
	expectPrevAlloc := true // the prologue is always allocated

	for o != epi {
		h := a.headerAt(o)
		size := sizeOf(h)
		if size < minBlockSize {
			return a.corrupt(BadTagMismatch, o, "block smaller than the minimum block size")
		}
		alloc := allocOf(h)
		prevAlloc := prevAllocOf(h)
		if prevAlloc != expectPrevAlloc {
			return a.corrupt(BadPrevAlloc, o, "PREV_ALLOC does not match predecessor's allocation state")
		}

		if alloc {
			stats.AllocBlocks++
			stats.AllocBytes += size
		} else {
			footer := a.footerAt(o)
			if footer != h {
				return a.corrupt(BadTagMismatch, o, "header and footer of a free block disagree")
			}
			if !expectPrevAlloc {
				return a.corrupt(AdjacentFreeBlocks, o, "two physically adjacent free blocks were not coalesced")
			}
			stats.FreeBlocks++
			stats.FreeBytes += size
			free[uint32(o)] = size
		}

		stats.TotalBytes += size
		expectPrevAlloc = alloc
		o = o.add(size)
	}

	if a.prevAllocAt(epi) != expectPrevAlloc {
		return a.corrupt(BadPrevAlloc, epi, "epilogue PREV_ALLOC does not match the last block's allocation state")
	}
	return nil
}

// walkSmallList verifies the doubly linked small free list: every member
// must be free, exactly minBlockSize, and PRED/SUCC must agree in both
// directions.
func (a *Allocator) walkSmallList(free map[uint32]uint32, cross multimap.MultiMap[uint32], hist FreeHistogram) error {
	pred := NilOffset
	o := a.smallListHead
	for !o.IsNil() {
		if _, dup := free[uint32(o)]; dup {
			return a.corrupt(DuplicateMembership, o, "small list visits the same block twice")
		}
		if a.allocAt(o) {
			return a.corrupt(BadSmallListLink, o, "small list member is marked allocated")
		}
		size := a.sizeAt(o)
		if size != minBlockSize {
			return a.corrupt(BadSmallListLink, o, "small list member is not minBlockSize")
		}
		if a.predAt(o) != pred {
			return a.corrupt(BadSmallListLink, o, "PRED does not point back at the previous member")
		}

		free[uint32(o)] = size
		hist[size]++
		if err := a.crossInsert(cross, size, uint32(o)); err != nil {
			return err
		}

		pred = o
		o = a.succAt(o)
	}
	return nil
}

// walkBST verifies the free-block BST: size ordering between a node and
// its children, and the internal consistency of each node's hanger
// chain (every member free, same size as the owning node, and linked
// both forward via HANGER and backward via PARENT).
func (a *Allocator) walkBST(free map[uint32]uint32, cross multimap.MultiMap[uint32], hist FreeHistogram) error {
	return a.walkBSTNode(a.bstRoot, 0, ^uint32(0), free, cross, hist)
}

func (a *Allocator) walkBSTNode(o Offset, lo, hi uint32, free map[uint32]uint32, cross multimap.MultiMap[uint32], hist FreeHistogram) error {
	if o.IsNil() {
		return nil
	}
	if _, dup := free[uint32(o)]; dup {
		return a.corrupt(DuplicateMembership, o, "BST visits the same block twice")
	}
	if a.allocAt(o) {
		return a.corrupt(BadBSTOrdering, o, "BST node is marked allocated")
	}

	size := a.sizeAt(o)
	if size <= lo || size > hi {
		return a.corrupt(BadBSTOrdering, o, "BST node violates its ancestors' size ordering")
	}
	if size < minLargeSize {
		return a.corrupt(BadBSTOrdering, o, "BST node is smaller than the minimum size carrying LCHILD/RCHILD/PARENT/HANGER links")
	}

	free[uint32(o)] = size
	hist[size]++
	if err := a.crossInsert(cross, size, uint32(o)); err != nil {
		return err
	}

	if err := a.walkHangerChain(o, size, free, cross, hist); err != nil {
		return err
	}

	if err := a.walkBSTNode(a.lchildAt(o), lo, size-1, free, cross, hist); err != nil {
		return err
	}
	return a.walkBSTNode(a.rchildAt(o), size, hi, free, cross, hist)
}

func (a *Allocator) walkHangerChain(owner Offset, size uint32, free map[uint32]uint32, cross multimap.MultiMap[uint32], hist FreeHistogram) error {
	back := owner
	cur := a.hangerAt(owner)
	for !cur.IsNil() {
		if _, dup := free[uint32(cur)]; dup {
			return a.corrupt(DuplicateMembership, cur, "hanger chain visits the same block twice")
		}
		if a.allocAt(cur) {
			return a.corrupt(BadHangerChain, cur, "hanger chain member is marked allocated")
		}
		if a.sizeAt(cur) != size {
			return a.corrupt(BadHangerChain, cur, "hanger chain member size disagrees with the owning node")
		}
		if a.parentAt(cur) != back {
			return a.corrupt(BadHangerChain, cur, "hanger chain member's PARENT does not point at its predecessor")
		}

		free[uint32(cur)] = size
		hist[size]++
		if err := a.crossInsert(cross, size, uint32(cur)); err != nil {
			return err
		}

		back = cur
		cur = a.hangerAt(cur)
	}
	return nil
}

// crossInsert adds offset to the independent cross-index's bucket for
// size, returning a DuplicateMembership error if offset was already a
// member: PutValue is an idempotent set-add, so an unchanged bucket
// before and after means offset was already present.
func (a *Allocator) crossInsert(cross multimap.MultiMap[uint32], size uint32, offset uint32) error {
	if cross == nil {
		return nil
	}
	key := sizeKey(size)
	before := cross.GetValuesFor(key).Clone()
	cross.PutValue(key, offset)
	after := cross.GetValuesFor(key)
	if before.Equals(after) {
		return a.corrupt(DuplicateMembership, Offset(offset), "block already present in the independent free-block index")
	}
	return nil
}

func sizeKey(size uint32) multimap.Key {
	return multimap.FromInt64(int64(size))
}

// decodeSizeKey reverses sizeKey, following the encoding policy
// documented on multimap.Key: every integer constructor adds 1<<63
// before writing its value big-endian.
func decodeSizeKey(k multimap.Key) uint32 {
	raw := binary.BigEndian.Uint64(k)
	return uint32(raw - (1 << 63))
}
