// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package memalloc implements an in-process, single-threaded dynamic memory
allocator over one contiguous, monotonically growable heap region.

The heap

The heap is a []byte-like region owned by a HeapProvider, addressed
internally by 32-bit offsets relative to the heap's base. This bounds any
single heap managed by this package to 4 GiB. Offset zero is reserved by the
heap's prologue block and doubles as the "no block" sentinel throughout the
package, the same convention a caller coming from a handle-based storage
engine will already recognize.

Blocks

Every block is an 8-byte-aligned run of bytes carrying a one-word header
(size packed with an ALLOC bit and a PREV_ALLOC bit). Free blocks also carry
a duplicate footer word, enabling O(1) backward navigation across free
regions; allocated blocks omit the footer and recover that word for payload.
Free block payloads are overlaid with either small-list links (minimum-size
blocks) or binary-search-tree links (everything larger) — see block.go,
smalllist.go and bst.go.

Free-space index

Free blocks are indexed two ways depending on their size: blocks of exactly
the minimum block size live in a doubly linked list (smalllist.go), and
every larger free block lives in an unbalanced binary search tree keyed by
size, with same-size blocks chained off one tree node (bst.go). Malloc,
Free, Realloc and Calloc drive both index structures through the
coalesce/split/place/extend state machine in alloc.go.

Checking

CheckHeap walks the physical block chain and both index structures,
verifying the invariants listed in its own documentation. In CheckFull mode
it also cross-indexes free blocks into an independent multi-map based oracle
(check.go) so that a bug in the production index's own walk logic does not
also hide from the checker that exercises it.

*/
package memalloc
