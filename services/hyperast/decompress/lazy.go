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

type lazyNode struct {
	handle store.NodeID
	parent IdD
	pos    uint32
	kids   []IdD // nil until opened
	opened bool
}

// Lazy is an arena that materializes nodes on demand.
//
// Ids are the same as Eager would assign: the root is size-1 and the
// children of x are numbered from the right, each child c taking the id
// just below the range of its right sibling. A node is known once its
// parent is opened; only known nodes occupy memory.
type Lazy struct {
	view  store.View
	root  IdD
	nodes map[IdD]*lazyNode
}

// NewLazy creates a lazy arena over the tree under root. Only the root is
// materialized.
func NewLazy(view store.View, root store.NodeID) *Lazy {
	r := IdD(view.Size(root) - 1)
	return &Lazy{
		view: view,
		root: r,
		nodes: map[IdD]*lazyNode{
			r: {handle: root, parent: noParent},
		},
	}
}

// Materialized returns the number of nodes currently held.
func (l *Lazy) Materialized() int { return len(l.nodes) }

func (l *Lazy) Root() IdD        { return l.root }
func (l *Lazy) Len() int         { return int(l.root) + 1 }
func (l *Lazy) View() store.View { return l.view }

// node returns the materialized node x, decompressing from the root when
// it is not known yet.
func (l *Lazy) node(x IdD) *lazyNode {
	checkID(x, l.Len())
	if n, ok := l.nodes[x]; ok {
		return n
	}
	l.DecompressTo(x)
	return l.nodes[x]
}

func (l *Lazy) open(x IdD, n *lazyNode) []IdD {
	if n.opened {
		return n.kids
	}
	children := l.view.Children(n.handle)
	n.kids = make([]IdD, len(children))
	next := x
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		next--
		n.kids[i] = next
		if _, ok := l.nodes[next]; !ok {
			l.nodes[next] = &lazyNode{handle: c, parent: x, pos: uint32(i)}
		}
		next -= IdD(l.view.Size(c) - 1)
	}
	n.opened = true
	return n.kids
}

func (l *Lazy) Handle(x IdD) store.NodeID { return l.node(x).handle }

func (l *Lazy) Parent(x IdD) (IdD, bool) {
	p := l.node(x).parent
	return p, p != noParent
}

func (l *Lazy) DecompressChildren(x IdD) []IdD {
	return l.open(x, l.node(x))
}

// DecompressTo opens every node on the path from the root to x.
func (l *Lazy) DecompressTo(x IdD) store.NodeID {
	checkID(x, l.Len())
	if n, ok := l.nodes[x]; ok {
		return n.handle
	}
	cur := l.root
	for cur != x {
		kids := l.open(cur, l.nodes[cur])
		// kids are ascending; x lies in the first child whose id is >= x
		next := cur
		for _, k := range kids {
			if k >= x {
				next = k
				break
			}
		}
		cur = next
	}
	return l.nodes[x].handle
}

// DecompressDescendants opens the whole subtree of x.
func (l *Lazy) DecompressDescendants(x IdD) {
	stack := []IdD{x}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, l.open(cur, l.node(cur))...)
	}
}

func (l *Lazy) FirstDescendant(x IdD) IdD {
	return x - IdD(l.view.Size(l.node(x).handle)-1)
}

func (l *Lazy) DescendantsCount(x IdD) int {
	return int(l.view.Size(l.node(x).handle) - 1)
}

func (l *Lazy) IsDescendantOf(x, anc IdD) bool {
	checkID(x, l.Len())
	return l.FirstDescendant(anc) <= x && x < anc
}

func (l *Lazy) PositionInParent(x IdD) int { return int(l.node(x).pos) }

var _ Tree = (*Lazy)(nil)
