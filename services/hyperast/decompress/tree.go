// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decompress materializes one shared tree into a dense post-order
// index space.
//
// # Description
//
// A node handle may occur many times in a hash-consed tree. An arena gives
// every occurrence its own IdD, numbered in post-order, so that the
// subtree of x is exactly the id range [FirstDescendant(x), x]. Ancestry,
// subtree size and range iteration are then O(1) or linear in the range.
//
// Two arenas implement Tree:
//
//   - Eager walks the whole tree up front into flat arrays.
//   - Lazy derives ids from subtree sizes and only materializes nodes when
//     a caller opens them, so memory tracks the explored frontier.
//
// # Thread Safety
//
// Arenas belong to a single diff and are not safe for concurrent use.
package decompress

import (
	"fmt"
	"iter"

	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// IdD is an arena index. It is never interchangeable with a node handle or
// a label id.
type IdD uint32

// Tree is the arena contract the matchers are written against.
//
// Methods taking an IdD panic when the id is outside [0, Len()). The Lazy
// arena materializes ids on demand; the Decompress* methods are the only
// points where it grows.
type Tree interface {
	// Root returns the id of the root, always Len()-1.
	Root() IdD

	// Len returns the number of occurrences in the tree.
	Len() int

	// View returns the store view the arena was built over.
	View() store.View

	// Handle returns the node handle of x.
	Handle(x IdD) store.NodeID

	// Parent returns the parent of x; false for the root.
	Parent(x IdD) (IdD, bool)

	// DecompressChildren returns the children of x in order.
	DecompressChildren(x IdD) []IdD

	// DecompressTo materializes x and its ancestors and returns x's handle.
	DecompressTo(x IdD) store.NodeID

	// DecompressDescendants materializes the whole subtree of x.
	DecompressDescendants(x IdD)

	// FirstDescendant returns the smallest id in the subtree of x.
	FirstDescendant(x IdD) IdD

	// DescendantsCount returns the subtree size of x, x excluded.
	DescendantsCount(x IdD) int

	// IsDescendantOf reports whether x lies strictly inside anc's subtree.
	IsDescendantOf(x, anc IdD) bool

	// PositionInParent returns the index of x among its parent's children.
	PositionInParent(x IdD) int
}

// Type returns the node type of x.
func Type(t Tree, x IdD) types.Type {
	return t.View().Store().Resolve(t.Handle(x)).Type()
}

// IsLeaf reports whether x has no children in the arena's view.
func IsLeaf(t Tree, x IdD) bool {
	return t.DescendantsCount(x) == 0
}

// Height returns the subtree height of x in the arena's view.
func Height(t Tree, x IdD) int {
	return int(t.View().Height(t.Handle(x)))
}

// Ancestors returns the ancestors of x, nearest first, root last.
func Ancestors(t Tree, x IdD) []IdD {
	var out []IdD
	for p, ok := t.Parent(x); ok; p, ok = t.Parent(p) {
		out = append(out, p)
	}
	return out
}

// Path returns the child positions leading from the root to x.
func Path(t Tree, x IdD) []int {
	var rev []int
	for cur := x; ; {
		p, ok := t.Parent(cur)
		if !ok {
			break
		}
		rev = append(rev, t.PositionInParent(cur))
		cur = p
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// Descendants returns the ids of x's subtree, x excluded, in post-order.
func Descendants(t Tree, x IdD) iter.Seq[IdD] {
	return func(yield func(IdD) bool) {
		t.DecompressDescendants(x)
		for id := t.FirstDescendant(x); id < x; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// PostOrder iterates every id of t in post-order, materializing the whole
// tree first when t is lazy.
func PostOrder(t Tree) iter.Seq[IdD] {
	return func(yield func(IdD) bool) {
		root := t.Root()
		t.DecompressDescendants(root)
		for id := IdD(0); id <= root; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

func checkID(x IdD, n int) {
	if int(x) >= n {
		panic(fmt.Sprintf("decompress: id %d out of range [0, %d)", x, n))
	}
}
