// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subtree

import (
	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
)

// priorityList buckets unopened subtrees by height. Subtrees lower than
// minHeight are never pushed.
type priorityList struct {
	tree      decompress.Tree
	minHeight int
	buckets   [][]decompress.IdD // index = height
	top       int
}

func newPriorityList(t decompress.Tree, minHeight int) *priorityList {
	return &priorityList{tree: t, minHeight: minHeight}
}

func (p *priorityList) push(x decompress.IdD) {
	h := decompress.Height(p.tree, x)
	if h < p.minHeight {
		return
	}
	for len(p.buckets) <= h {
		p.buckets = append(p.buckets, nil)
	}
	p.buckets[h] = append(p.buckets[h], x)
	p.top = max(p.top, h)
}

// open pushes the children of x.
func (p *priorityList) open(x decompress.IdD) {
	for _, c := range p.tree.DecompressChildren(x) {
		p.push(c)
	}
}

// peekHeight returns the greatest non-empty height, or -1.
func (p *priorityList) peekHeight() int {
	for p.top > 0 && len(p.buckets[p.top]) == 0 {
		p.top--
	}
	if p.top == 0 {
		return -1
	}
	return p.top
}

// pop removes and returns the tallest bucket.
func (p *priorityList) pop() []decompress.IdD {
	h := p.peekHeight()
	if h < 0 {
		return nil
	}
	out := p.buckets[h]
	p.buckets[h] = nil
	return out
}

func (p *priorityList) openAll(xs []decompress.IdD) {
	for _, x := range xs {
		p.open(x)
	}
}
