// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subtree implements the top-down phase of the diff: it maps
// maximal isomorphic subtrees of the two arenas.
//
// # Algorithm
//
// Each side keeps a height-bucketed list of unopened subtrees. The taller
// side is opened until the heights agree; then every cross pair at that
// height is tested for isomorphism and recorded in a multi-mapping.
// Unmatched nodes are opened. Afterwards, pairs unique on both sides are
// linked with their whole descendant ranges, and the ambiguous rest is
// ranked and accepted greedily.
package subtree

import (
	"cmp"
	"math"
	"slices"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

// DefaultMinHeight keeps single leaves out of the top-down phase.
const DefaultMinHeight = 2

// Options configures Match.
type Options struct {
	// MinHeight is the smallest subtree height considered. Zero means
	// DefaultMinHeight.
	MinHeight int

	// Structural ignores labels when testing isomorphism.
	Structural bool
}

// Stats summarizes one run.
type Stats struct {
	Candidates int // pairs recorded in the multi-mapping
	Unique     int // pairs linked without ranking
	Ambiguous  int // ranked pairs
	Linked     int // nodes linked, descendants included
}

// Match links the isomorphic subtrees of src and dst into m.
//
// Both arenas must view the same store. Pairs already present in m are
// kept; ranges touching them are skipped.
func Match(src, dst decompress.Tree, m *mapping.Mono, opts Options) Stats {
	if opts.MinHeight <= 0 {
		opts.MinHeight = DefaultMinHeight
	}
	mt := &matcher{src: src, dst: dst, m: m, opts: opts, view: src.View()}
	multi := mt.candidates()
	mt.disambiguate(multi)
	return mt.stats
}

type matcher struct {
	src, dst decompress.Tree
	m        *mapping.Mono
	opts     Options
	view     store.View
	stats    Stats
}

func (mt *matcher) isomorphic(s, d decompress.IdD) bool {
	return store.Isomorphic(mt.view, mt.src.Handle(s), mt.dst.Handle(d), mt.opts.Structural)
}

// candidates runs the height-driven search and returns every isomorphic
// pair found.
func (mt *matcher) candidates() *mapping.Multi {
	multi := mapping.NewMulti(mt.src.Len(), mt.dst.Len())
	sl := newPriorityList(mt.src, mt.opts.MinHeight)
	dl := newPriorityList(mt.dst, mt.opts.MinHeight)
	sl.push(mt.src.Root())
	dl.push(mt.dst.Root())

	for {
		hs, hd := sl.peekHeight(), dl.peekHeight()
		if hs < 0 || hd < 0 {
			return multi
		}
		if hs > hd {
			sl.openAll(sl.pop())
			continue
		}
		if hd > hs {
			dl.openAll(dl.pop())
			continue
		}

		ss, ds := sl.pop(), dl.pop()
		matchedD := make([]bool, len(ds))
		for _, s := range ss {
			matched := false
			for j, d := range ds {
				if mt.isomorphic(s, d) {
					multi.Link(s, d)
					mt.stats.Candidates++
					matched = true
					matchedD[j] = true
				}
			}
			if !matched {
				sl.open(s)
			}
		}
		for j, d := range ds {
			if !matchedD[j] {
				dl.open(d)
			}
		}
	}
}

// linkSubtree links s and d with their descendants pairwise. Isomorphic
// subtrees have equal post-order ranges.
func (mt *matcher) linkSubtree(s, d decompress.IdD) {
	n := mt.src.DescendantsCount(s)
	mt.stats.Linked += mt.m.LinkRange(mt.src.FirstDescendant(s), mt.dst.FirstDescendant(d), n)
}

// rangeFree reports whether no node of the subtree under x is mapped.
func rangeFree(t decompress.Tree, x decompress.IdD, mapped func(decompress.IdD) bool) bool {
	for id := t.FirstDescendant(x); id <= x; id++ {
		if mapped(id) {
			return false
		}
	}
	return true
}

type ranked struct {
	src, dst decompress.IdD
	sibling  float64
	ancestor float64
	position float64
	distance int
}

func (mt *matcher) disambiguate(multi *mapping.Multi) {
	var ambiguous []mapping.Pair
	for _, s := range multi.AllSrcs() {
		dsts := multi.Dsts(s)
		if len(dsts) == 1 && multi.IsDstUnique(dsts[0]) {
			mt.stats.Unique++
			mt.linkSubtree(s, dsts[0])
			continue
		}
		for _, d := range dsts {
			ambiguous = append(ambiguous, mapping.Pair{Src: s, Dst: d})
		}
	}
	if len(ambiguous) == 0 {
		return
	}
	mt.stats.Ambiguous = len(ambiguous)

	keys := make([]ranked, len(ambiguous))
	for i, p := range ambiguous {
		keys[i] = mt.rank(p.Src, p.Dst)
	}
	slices.SortFunc(keys, compareRanked)

	for _, k := range keys {
		if !rangeFree(mt.src, k.src, mt.m.IsSrc) || !rangeFree(mt.dst, k.dst, mt.m.IsDst) {
			continue
		}
		mt.linkSubtree(k.src, k.dst)
	}
}

func compareRanked(a, b ranked) int {
	if c := cmp.Compare(b.sibling, a.sibling); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ancestor, a.ancestor); c != 0 {
		return c
	}
	if c := cmp.Compare(a.position, b.position); c != 0 {
		return c
	}
	if c := cmp.Compare(a.distance, b.distance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.src, b.src); c != 0 {
		return c
	}
	return cmp.Compare(a.dst, b.dst)
}

func (mt *matcher) rank(s, d decompress.IdD) ranked {
	r := ranked{src: s, dst: d, distance: absDiff(int(s), int(d))}

	ps, okS := mt.src.Parent(s)
	pd, okD := mt.dst.Parent(d)
	if okS && okD {
		r.sibling = similarity.Dice(mt.src, mt.dst, mt.m, ps, pd)
	}

	as := decompress.Ancestors(mt.src, s)
	ad := decompress.Ancestors(mt.dst, d)
	r.ancestor = similarity.LCSRatio(as, ad, func(x, y decompress.IdD) bool {
		return decompress.Type(mt.src, x) == decompress.Type(mt.dst, y)
	})

	r.position = positionDistance(decompress.Path(mt.src, s), decompress.Path(mt.dst, d))
	return r
}

// positionDistance is the euclidean distance between two root-to-node
// position vectors, the shorter one padded with zeros.
func positionDistance(a, b []int) float64 {
	sum := 0.0
	for i := range max(len(a), len(b)) {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff := float64(x - y)
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
