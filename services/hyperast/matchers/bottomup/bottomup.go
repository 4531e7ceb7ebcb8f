// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bottomup extends a top-down mapping to containers that are
// similar but not isomorphic, then recovers mappings inside them.
//
// Src containers are visited in post-order. Candidates are the unmapped
// dst ancestors, of the same type, of the partners of a container's
// mapped descendants. A candidate is accepted when its Chawathe
// similarity reaches the threshold, after which last-chance recovery maps
// what it can among the two subtrees. The roots are always linked last.
package bottomup

import (
	"cmp"
	"iter"
	"math"
	"slices"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
)

// Stats summarizes one run.
type Stats struct {
	Containers int // container pairs accepted, roots excluded
	Exact      int // exact recovery runs
	Linked     int // pairs added to the mapping, roots included
}

// Match extends m, which holds the top-down result, in place.
func Match(src, dst decompress.Tree, m *mapping.Mono, opts Options) Stats {
	opts = opts.withDefaults()
	mt := &matcher{src: src, dst: dst, m: m, opts: opts}
	before := m.Len()

	srcRoot, dstRoot := src.Root(), dst.Root()
	for s := range mt.unmappedPostOrder() {
		if s == srcRoot || decompress.IsLeaf(src, s) {
			continue
		}
		d, ok := mt.best(s)
		if !ok {
			continue
		}
		mt.m.Link(s, d)
		mt.stats.Containers++
		mt.recover(s, d)
	}

	if !m.Has(srcRoot, dstRoot) {
		m.Link(srcRoot, dstRoot)
	}
	mt.recover(srcRoot, dstRoot)

	mt.stats.Linked = m.Len() - before
	opts.Logger.Debug("bottom-up matching done",
		"variant", opts.Variant.String(),
		"containers", mt.stats.Containers,
		"exact_runs", mt.stats.Exact,
		"linked", mt.stats.Linked,
	)
	return mt.stats
}

type matcher struct {
	src, dst decompress.Tree
	m        *mapping.Mono
	opts     Options
	stats    Stats
}

// unmappedPostOrder yields the unmapped src nodes in post-order. Nodes
// under a mapped ancestor are visited too; only subtrees mapped through
// and through are skipped, so a lazy arena stays cold below them.
func (mt *matcher) unmappedPostOrder() iter.Seq[decompress.IdD] {
	return func(yield func(decompress.IdD) bool) {
		type frame struct {
			x    decompress.IdD
			kids []decompress.IdD
			next int
		}
		root := mt.src.Root()
		if mt.fullyMapped(root) {
			return
		}
		stack := []frame{{x: root, kids: mt.src.DecompressChildren(root)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.kids) {
				c := top.kids[top.next]
				top.next++
				if !mt.fullyMapped(c) {
					stack = append(stack, frame{x: c, kids: mt.src.DecompressChildren(c)})
				}
				continue
			}
			x := top.x
			stack = stack[:len(stack)-1]
			if !mt.m.IsSrc(x) && !yield(x) {
				return
			}
		}
	}
}

// fullyMapped reports whether x and all its descendants are mapped. Only
// ids are inspected, nothing is materialized.
func (mt *matcher) fullyMapped(x decompress.IdD) bool {
	for id := mt.src.FirstDescendant(x); id <= x; id++ {
		if !mt.m.IsSrc(id) {
			return false
		}
	}
	return true
}

// candidates returns the unmapped, non-root dst ancestors of the partners
// of s's mapped descendants whose type equals s's, nearest first.
func (mt *matcher) candidates(s decompress.IdD) []decompress.IdD {
	typ := decompress.Type(mt.src, s)
	dstRoot := mt.dst.Root()
	seen := make(map[decompress.IdD]struct{})
	var out []decompress.IdD
	for c := range decompress.Descendants(mt.src, s) {
		if !mt.m.IsSrc(c) {
			continue
		}
		p := mt.m.GetDst(c)
		for a, ok := mt.dst.Parent(p); ok; a, ok = mt.dst.Parent(a) {
			if _, dup := seen[a]; dup {
				break
			}
			seen[a] = struct{}{}
			if a != dstRoot && !mt.m.IsDst(a) && decompress.Type(mt.dst, a) == typ {
				out = append(out, a)
			}
		}
	}
	return out
}

func (mt *matcher) threshold(s, d decompress.IdD) float64 {
	if mt.opts.Variant != Hybrid {
		return mt.opts.SimThreshold.Float()
	}
	size := mt.src.DescendantsCount(s) + 1 + mt.dst.DescendantsCount(d) + 1
	return 1 / (1 + math.Log(float64(size)))
}

type scored struct {
	dst  decompress.IdD
	sim  float64
	skew int
}

// best picks the partner of s, if any reaches the threshold.
func (mt *matcher) best(s decompress.IdD) (decompress.IdD, bool) {
	cands := mt.candidates(s)
	if len(cands) == 0 {
		return 0, false
	}

	if !mt.opts.Variant.ranked() {
		var (
			best    decompress.IdD
			bestSim = -1.0
		)
		for _, d := range cands {
			sim := similarity.Chawathe(mt.src, mt.dst, mt.m, s, d)
			if sim > bestSim {
				best, bestSim = d, sim
			}
		}
		return best, bestSim >= mt.threshold(s, best)
	}

	for _, r := range mt.rank(s, cands) {
		if r.sim < mt.threshold(s, r.dst) {
			break
		}
		if mt.m.IsDst(r.dst) || mt.contested(s, r) {
			continue
		}
		return r.dst, true
	}
	return 0, false
}

// rank scores cands against s: similarity desc, size skew asc, dst asc.
func (mt *matcher) rank(s decompress.IdD, cands []decompress.IdD) []scored {
	ranked := make([]scored, len(cands))
	srcCount := mt.src.DescendantsCount(s)
	for i, d := range cands {
		ranked[i] = scored{
			dst:  d,
			sim:  similarity.Chawathe(mt.src, mt.dst, mt.m, s, d),
			skew: absDiff(srcCount, mt.dst.DescendantsCount(d)),
		}
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		if c := cmp.Compare(a.skew, b.skew); c != 0 {
			return c
		}
		return cmp.Compare(a.dst, b.dst)
	})
	return ranked
}

// contested reports whether a src container visited after s scores
// strictly higher against r.dst, reaches its threshold there and ranks
// r.dst first. s then leaves r.dst to it.
func (mt *matcher) contested(s decompress.IdD, r scored) bool {
	for _, rival := range mt.rivals(s, r.dst) {
		sim := similarity.Chawathe(mt.src, mt.dst, mt.m, rival, r.dst)
		if sim <= r.sim || sim < mt.threshold(rival, r.dst) {
			continue
		}
		if top := mt.rank(rival, mt.candidates(rival)); len(top) > 0 && top[0].dst == r.dst {
			return true
		}
	}
	return false
}

// rivals mirrors candidates: the unmapped, non-root src ancestors of the
// partners of d's mapped descendants that have s's type and come after s
// in post-order.
func (mt *matcher) rivals(s, d decompress.IdD) []decompress.IdD {
	typ := decompress.Type(mt.src, s)
	srcRoot := mt.src.Root()
	seen := make(map[decompress.IdD]struct{})
	var out []decompress.IdD
	for c := range decompress.Descendants(mt.dst, d) {
		if !mt.m.IsDst(c) {
			continue
		}
		p := mt.m.GetSrc(c)
		for a, ok := mt.src.Parent(p); ok; a, ok = mt.src.Parent(a) {
			if _, dup := seen[a]; dup {
				break
			}
			seen[a] = struct{}{}
			if a > s && a != srcRoot && !mt.m.IsSrc(a) && decompress.Type(mt.src, a) == typ {
				out = append(out, a)
			}
		}
	}
	return out
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
