// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package leaf maps nodes by textual similarity at a chosen granularity.
//
// It is the building block of the similarity-driven algorithm family:
// running MatchStmt then MatchAll, followed by bottom-up matching,
// replaces the top-down phase.
package leaf

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// Granularity selects which nodes are compared.
type Granularity int

const (
	File      Granularity = iota // file nodes
	SubFile                      // declarations
	Statement                    // statements
	AnyLeaf                      // nodes without children
)

func (g Granularity) String() string {
	switch g {
	case File:
		return "file"
	case SubFile:
		return "subfile"
	case Statement:
		return "statement"
	case AnyLeaf:
		return "leaf"
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// Options configures a Matcher.
type Options struct {
	// Threshold is the minimum bigram Dice similarity of two texts. Zero
	// means one half.
	Threshold similarity.Ratio
}

// Matcher links unmapped nodes of two arenas into a shared mapping.
type Matcher struct {
	src, dst  decompress.Tree
	m         *mapping.Mono
	labels    store.LabelSource
	threshold similarity.Ratio
	texts     map[store.NodeID]string
}

// New creates a Matcher. labels resolves the text of leaves.
func New(src, dst decompress.Tree, m *mapping.Mono, labels store.LabelSource, opts Options) *Matcher {
	if opts.Threshold.Den == 0 {
		opts.Threshold = similarity.Half
	}
	return &Matcher{
		src:       src,
		dst:       dst,
		m:         m,
		labels:    labels,
		threshold: opts.Threshold,
		texts:     make(map[store.NodeID]string),
	}
}

func (lm *Matcher) MatchFile() int    { return lm.Match(File) }
func (lm *Matcher) MatchSubFile() int { return lm.Match(SubFile) }
func (lm *Matcher) MatchStmt() int    { return lm.Match(Statement) }
func (lm *Matcher) MatchAll() int     { return lm.Match(AnyLeaf) }

type candidate struct {
	src, dst decompress.IdD
	sim      float64
}

// Match links the unmapped nodes of granularity g whose texts are similar
// enough, best pairs first, and returns the number of links made,
// propagated descendants included.
func (lm *Matcher) Match(g Granularity) int {
	srcs := lm.collect(lm.src, g, lm.m.IsSrc)
	dsts := lm.collect(lm.dst, g, lm.m.IsDst)
	if len(srcs) == 0 || len(dsts) == 0 {
		return 0
	}

	var cands []candidate
	for _, s := range srcs {
		st := decompress.Type(lm.src, s)
		stext := lm.text(lm.src, s)
		for _, d := range dsts {
			if decompress.Type(lm.dst, d) != st {
				continue
			}
			sim := similarity.BigramDice(stext, lm.text(lm.dst, d))
			if lm.threshold.Reached(sim) {
				cands = append(cands, candidate{src: s, dst: d, sim: sim})
			}
		}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		if c := cmp.Compare(a.src, b.src); c != 0 {
			return c
		}
		return cmp.Compare(a.dst, b.dst)
	})

	linked := 0
	for _, c := range cands {
		if !lm.m.LinkIfBothUnmapped(c.src, c.dst) {
			continue
		}
		linked++
		linked += lm.propagate(c.src, c.dst)
	}
	return linked
}

// collect walks t top-down and returns the unmapped nodes of granularity
// g, not descending below them, in pre-order.
func (lm *Matcher) collect(t decompress.Tree, g Granularity, mapped func(decompress.IdD) bool) []decompress.IdD {
	tbl := t.View().Store().Types()
	var out []decompress.IdD
	stack := []decompress.IdD{t.Root()}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids := t.DecompressChildren(x)
		if !mapped(x) && selects(tbl, g, decompress.Type(t, x), len(kids) == 0) {
			out = append(out, x)
			continue
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

func selects(tbl types.Table, g Granularity, t types.Type, leaf bool) bool {
	switch g {
	case File:
		return tbl.IsFile(t)
	case SubFile:
		return tbl.IsDeclaration(t)
	case Statement:
		return tbl.IsStatement(t)
	default:
		return leaf
	}
}

func (lm *Matcher) text(t decompress.Tree, x decompress.IdD) string {
	h := t.Handle(x)
	if s, ok := lm.texts[h]; ok {
		return s
	}
	s := store.Text(t.View().Store(), lm.labels, h)
	lm.texts[h] = s
	return s
}

// propagate links the descendant ranges of a new pair when they have the
// same size and the same types position by position.
func (lm *Matcher) propagate(s, d decompress.IdD) int {
	n := lm.src.DescendantsCount(s)
	if n == 0 || n != lm.dst.DescendantsCount(d) {
		return 0
	}
	lm.src.DecompressDescendants(s)
	lm.dst.DecompressDescendants(d)
	fs, fd := lm.src.FirstDescendant(s), lm.dst.FirstDescendant(d)
	for i := 0; i < n; i++ {
		if decompress.Type(lm.src, fs+decompress.IdD(i)) != decompress.Type(lm.dst, fd+decompress.IdD(i)) {
			return 0
		}
	}
	return lm.m.LinkRange(fs, fd, n-1)
}
