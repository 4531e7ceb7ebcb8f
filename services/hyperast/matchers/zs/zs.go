// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package zs computes the Zhang-Shasha tree edit distance between two
// subtrees and derives a node mapping from its backtrace.
//
// Time is O(n·m·min(depth, leaves)²) and memory O(n·m); callers bound the
// subtree sizes before using it.
package zs

import (
	"math"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

const (
	costInsert = 1.0
	costDelete = 1.0
)

// Options configures the relabel cost.
type Options struct {
	// Labels resolves label text for the q-gram relabel cost. When nil,
	// any two distinct labels cost 1.
	Labels store.LabelSource
}

// Result is the outcome of one run.
type Result struct {
	Distance float64
	Pairs    []mapping.Pair // arena ids, in backtrace order
}

// side is one subtree flattened to 1-based post-order positions.
type side struct {
	tree   decompress.Tree
	first  decompress.IdD
	n      int
	lld    []int // leftmost leaf descendant, 1-based
	types  []types.Type
	labels []label.ID
}

func newSide(t decompress.Tree, root decompress.IdD) *side {
	t.DecompressDescendants(root)
	first := t.FirstDescendant(root)
	n := int(root-first) + 1
	sd := &side{
		tree:   t,
		first:  first,
		n:      n,
		lld:    make([]int, n+1),
		types:  make([]types.Type, n+1),
		labels: make([]label.ID, n+1),
	}
	s := t.View().Store()
	for i := 1; i <= n; i++ {
		id := first + decompress.IdD(i-1)
		sd.lld[i] = int(t.FirstDescendant(id)-first) + 1
		v := s.Resolve(t.Handle(id))
		sd.types[i] = v.Type()
		sd.labels[i] = v.Label()
	}
	return sd
}

// keyroots returns the positions with no later position sharing their
// leftmost leaf, ascending.
func (sd *side) keyroots() []int {
	seen := make(map[int]bool, sd.n)
	var out []int
	for i := sd.n; i >= 1; i-- {
		if !seen[sd.lld[i]] {
			seen[sd.lld[i]] = true
			out = append(out, i)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (sd *side) id(i int) decompress.IdD { return sd.first + decompress.IdD(i-1) }

type solver struct {
	a, b     *side
	labels   store.LabelSource
	w        int
	treeDist []float64
	forest   []float64
}

func (z *solver) at(tbl []float64, i, j int) *float64 { return &tbl[i*z.w+j] }

func (z *solver) updateCost(i, j int) float64 {
	if z.a.types[i] != z.b.types[j] {
		return math.Inf(1)
	}
	la, lb := z.a.labels[i], z.b.labels[j]
	switch {
	case la == lb:
		return 0
	case la == label.None || lb == label.None:
		return 1
	case z.labels == nil:
		return 1
	}
	return 1 - similarity.TrigramDice(z.labels.Lookup(la), z.labels.Lookup(lb))
}

func (z *solver) forestDist(i, j int) {
	a, b := z.a, z.b
	li, lj := a.lld[i], b.lld[j]
	*z.at(z.forest, li-1, lj-1) = 0
	for di := li; di <= i; di++ {
		*z.at(z.forest, di, lj-1) = *z.at(z.forest, di-1, lj-1) + costDelete
		for dj := lj; dj <= j; dj++ {
			*z.at(z.forest, li-1, dj) = *z.at(z.forest, li-1, dj-1) + costInsert
			del := *z.at(z.forest, di-1, dj) + costDelete
			ins := *z.at(z.forest, di, dj-1) + costInsert
			if a.lld[di] == li && b.lld[dj] == lj {
				upd := *z.at(z.forest, di-1, dj-1) + z.updateCost(di, dj)
				v := min(del, ins, upd)
				*z.at(z.forest, di, dj) = v
				*z.at(z.treeDist, di, dj) = v
			} else {
				sub := *z.at(z.forest, a.lld[di]-1, b.lld[dj]-1) + *z.at(z.treeDist, di, dj)
				*z.at(z.forest, di, dj) = min(del, ins, sub)
			}
		}
	}
}

// Match computes the edit distance between the subtrees under s and d
// and the node pairs its backtrace keeps. Only pairs of equal type are
// returned.
func Match(src, dst decompress.Tree, s, d decompress.IdD, opts Options) Result {
	a, b := newSide(src, s), newSide(dst, d)
	z := &solver{
		a:        a,
		b:        b,
		labels:   opts.Labels,
		w:        b.n + 1,
		treeDist: make([]float64, (a.n+1)*(b.n+1)),
		forest:   make([]float64, (a.n+1)*(b.n+1)),
	}
	for _, i := range a.keyroots() {
		for _, j := range b.keyroots() {
			z.forestDist(i, j)
		}
	}
	return Result{Distance: *z.at(z.treeDist, a.n, b.n), Pairs: z.backtrace()}
}

func (z *solver) backtrace() []mapping.Pair {
	a, b := z.a, z.b
	var pairs []mapping.Pair
	type cell struct{ i, j int }
	stack := []cell{{a.n, b.n}}
	root := true
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		lastRow, lastCol := top.i, top.j
		if !root {
			z.forestDist(lastRow, lastCol)
		}
		root = false

		firstRow, firstCol := a.lld[lastRow]-1, b.lld[lastCol]-1
		row, col := lastRow, lastCol
		for row > firstRow || col > firstCol {
			cur := *z.at(z.forest, row, col)
			switch {
			case row > firstRow && *z.at(z.forest, row-1, col)+costDelete == cur:
				row--
			case col > firstCol && *z.at(z.forest, row, col-1)+costInsert == cur:
				col--
			case a.lld[row]-1 == firstRow && b.lld[col]-1 == firstCol:
				if a.types[row] == b.types[col] {
					pairs = append(pairs, mapping.Pair{Src: a.id(row), Dst: b.id(col)})
				}
				row--
				col--
			default:
				stack = append(stack, cell{row, col})
				row, col = a.lld[row]-1, b.lld[col]-1
			}
		}
	}
	return pairs
}

// Link runs Match and links every returned pair whose two sides are
// still unmapped. It returns the number of pairs linked.
func Link(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD, opts Options) int {
	linked := 0
	for _, p := range Match(src, dst, s, d, opts).Pairs {
		if m.LinkIfBothUnmapped(p.Src, p.Dst) {
			linked++
		}
	}
	return linked
}
