// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decompress

import (
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

const noParent = ^IdD(0)

// Eager is a fully materialized arena backed by flat arrays.
type Eager struct {
	view      store.View
	handles   []store.NodeID
	parents   []IdD
	firstDesc []IdD
	positions []uint32
	kidsOff   []uint32
	kids      []IdD
}

// NewEager decompresses the tree under root through view.
//
// The traversal is iterative, so deep trees do not grow the goroutine
// stack. Shared subtrees are visited once per occurrence.
func NewEager(view store.View, root store.NodeID) *Eager {
	n := int(view.Size(root))
	e := &Eager{
		view:      view,
		handles:   make([]store.NodeID, 0, n),
		parents:   make([]IdD, 0, n),
		firstDesc: make([]IdD, 0, n),
		positions: make([]uint32, 0, n),
		kidsOff:   make([]uint32, 0, n+1),
		kids:      make([]IdD, 0, max(n-1, 0)),
	}

	type frame struct {
		handle   store.NodeID
		children []store.NodeID
		next     int
		first    IdD
		ids      []IdD
	}
	stack := []frame{{handle: root, children: view.Children(root), first: 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.children) {
			c := top.children[top.next]
			top.next++
			stack = append(stack, frame{
				handle:   c,
				children: view.Children(c),
				first:    IdD(len(e.handles)),
			})
			continue
		}

		id := IdD(len(e.handles))
		e.handles = append(e.handles, top.handle)
		e.parents = append(e.parents, noParent)
		e.firstDesc = append(e.firstDesc, top.first)
		e.positions = append(e.positions, 0)
		e.kidsOff = append(e.kidsOff, uint32(len(e.kids)))
		for i, k := range top.ids {
			e.parents[k] = id
			e.positions[k] = uint32(i)
		}
		e.kids = append(e.kids, top.ids...)

		stack = stack[:len(stack)-1]
		if len(stack) > 0 {
			parent := &stack[len(stack)-1]
			parent.ids = append(parent.ids, id)
		}
	}
	e.kidsOff = append(e.kidsOff, uint32(len(e.kids)))
	return e
}

func (e *Eager) Root() IdD        { return IdD(len(e.handles) - 1) }
func (e *Eager) Len() int         { return len(e.handles) }
func (e *Eager) View() store.View { return e.view }

func (e *Eager) Handle(x IdD) store.NodeID {
	checkID(x, len(e.handles))
	return e.handles[x]
}

func (e *Eager) Parent(x IdD) (IdD, bool) {
	checkID(x, len(e.handles))
	p := e.parents[x]
	return p, p != noParent
}

// Children returns the children of x. The slice aliases arena storage.
func (e *Eager) Children(x IdD) []IdD {
	checkID(x, len(e.handles))
	return e.kids[e.kidsOff[x]:e.kidsOff[x+1]]
}

func (e *Eager) DecompressChildren(x IdD) []IdD { return e.Children(x) }

func (e *Eager) DecompressTo(x IdD) store.NodeID { return e.Handle(x) }

func (e *Eager) DecompressDescendants(x IdD) { checkID(x, len(e.handles)) }

func (e *Eager) FirstDescendant(x IdD) IdD {
	checkID(x, len(e.handles))
	return e.firstDesc[x]
}

func (e *Eager) DescendantsCount(x IdD) int {
	return int(x - e.FirstDescendant(x))
}

func (e *Eager) IsDescendantOf(x, anc IdD) bool {
	checkID(x, len(e.handles))
	return e.FirstDescendant(anc) <= x && x < anc
}

func (e *Eager) PositionInParent(x IdD) int {
	checkID(x, len(e.handles))
	return int(e.positions[x])
}

var _ Tree = (*Eager)(nil)
