// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bottomup

import (
	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/zs"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// =============================================================================
// Last-chance recovery
// =============================================================================

// recover maps what it can among the descendants of an accepted pair.
// The heuristic passes also run after exact recovery: the edit script may
// delete and insert children the passes can still pair up.
func (mt *matcher) recover(s, d decompress.IdD) {
	if mt.opts.Variant.exact() && mt.exactAllowed(s, d) {
		mt.exact(s, d)
	}
	mt.simple(s, d)
}

// exactAllowed is true when both subtrees are below MaxSize and the
// edit-distance table stays bounded.
func (mt *matcher) exactAllowed(s, d decompress.IdD) bool {
	if mt.opts.MaxSize < 0 {
		return false
	}
	sc, dc := mt.src.DescendantsCount(s), mt.dst.DescendantsCount(d)
	if sc >= mt.opts.MaxSize || dc >= mt.opts.MaxSize {
		return false
	}
	return (sc+1)*(dc+1) <= maxExactCells
}

func (mt *matcher) exact(s, d decompress.IdD) {
	if mt.opts.ExactProbe != nil {
		mt.opts.ExactProbe(mt.src.DescendantsCount(s), mt.dst.DescendantsCount(d))
	}
	mt.stats.Exact++
	zs.Link(mt.src, mt.dst, mt.m, s, d, zs.Options{Labels: mt.opts.Labels})
}

func (mt *matcher) isomorphic(structural bool) func(a, b decompress.IdD) bool {
	view := mt.src.View()
	return func(a, b decompress.IdD) bool {
		return store.Isomorphic(view, mt.src.Handle(a), mt.dst.Handle(b), structural)
	}
}

// linkSubtree links two isomorphic subtrees pairwise.
func (mt *matcher) linkSubtree(a, b decompress.IdD) {
	mt.m.LinkRange(mt.src.FirstDescendant(a), mt.dst.FirstDescendant(b), mt.src.DescendantsCount(a))
}

func unmappedChildren(t decompress.Tree, x decompress.IdD, mapped func(decompress.IdD) bool) []decompress.IdD {
	var out []decompress.IdD
	for _, c := range t.DecompressChildren(x) {
		if !mapped(c) {
			out = append(out, c)
		}
	}
	return out
}

// simple runs the three heuristic passes over the unmapped children of
// s and d, then repeats them inside every pair the histogram pass links.
func (mt *matcher) simple(s, d decompress.IdD) {
	type pair struct{ s, d decompress.IdD }
	work := []pair{{s, d}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]

		for _, structural := range []bool{false, true} {
			sk := unmappedChildren(mt.src, p.s, mt.m.IsSrc)
			dk := unmappedChildren(mt.dst, p.d, mt.m.IsDst)
			if len(sk) == 0 || len(dk) == 0 {
				break
			}
			for _, ip := range similarity.LCS(sk, dk, mt.isomorphic(structural)) {
				mt.linkSubtree(sk[ip.A], dk[ip.B])
			}
		}

		sk := unmappedChildren(mt.src, p.s, mt.m.IsSrc)
		dk := unmappedChildren(mt.dst, p.d, mt.m.IsDst)
		if len(sk) == 0 || len(dk) == 0 {
			continue
		}
		srcHist := make(map[types.Type]int, len(sk))
		dstByType := make(map[types.Type][]decompress.IdD, len(dk))
		for _, c := range sk {
			srcHist[decompress.Type(mt.src, c)]++
		}
		for _, c := range dk {
			t := decompress.Type(mt.dst, c)
			dstByType[t] = append(dstByType[t], c)
		}
		for _, c := range sk {
			t := decompress.Type(mt.src, c)
			if srcHist[t] != 1 || len(dstByType[t]) != 1 {
				continue
			}
			dc := dstByType[t][0]
			if mt.m.LinkIfBothUnmapped(c, dc) {
				work = append(work, pair{c, dc})
			}
		}
	}
}
