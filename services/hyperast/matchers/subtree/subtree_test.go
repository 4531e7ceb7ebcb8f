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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/ingest"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

var (
	leaf = ingest.Leaf
	node = ingest.Node
)

type arenaFactory func(store.View, store.NodeID) decompress.Tree

var factories = map[string]arenaFactory{
	"eager": func(v store.View, r store.NodeID) decompress.Tree { return decompress.NewEager(v, r) },
	"lazy":  func(v store.View, r store.NodeID) decompress.Tree { return decompress.NewLazy(v, r) },
}

// run builds both trees, matches them with opts and returns the arenas
// and mapping.
func run(t *testing.T, mk arenaFactory, src, dst ingest.Raw, opts Options) (decompress.Tree, decompress.Tree, *mapping.Mono, Stats) {
	t.Helper()
	reg := types.NewRegistry()
	s := store.New(reg)
	b := ingest.NewBuilder(s, label.New(), reg)
	view := store.FullView{S: s}
	st := mk(view, b.InsertRaw(src))
	dt := mk(view, b.InsertRaw(dst))
	m := mapping.NewMono(st.Len(), dt.Len())
	stats := Match(st, dt, m, opts)
	return st, dt, m, stats
}

func TestMatch_IdenticalTreesFullyMapped(t *testing.T) {
	tree := node("root",
		node("f", leaf("id", "a"), node("call", leaf("id", "g"), leaf("lit", "1"))),
		leaf("id", "b"),
		node("f", leaf("id", "a"), node("call", leaf("id", "g"), leaf("lit", "1"))),
	)
	for name, mk := range factories {
		t.Run(name, func(t *testing.T) {
			st, dt, m, stats := run(t, mk, tree, tree, Options{})
			require.Equal(t, st.Len(), dt.Len())
			assert.Equal(t, st.Len(), m.Len())
			for i := 0; i < st.Len(); i++ {
				assert.True(t, m.Has(decompress.IdD(i), decompress.IdD(i)), "node %d in order", i)
			}
			assert.Equal(t, 1, stats.Unique)
			assert.Equal(t, st.Len(), stats.Linked)
		})
	}
}

func TestMatch_MovedSubtrees(t *testing.T) {
	f := node("f", leaf("id", "a"), leaf("id", "b"))
	g := node("g", leaf("id", "c"), leaf("id", "d"))
	src := node("root", f, g)
	dst := node("root", g, leaf("id", "h"), f)

	for name, mk := range factories {
		t.Run(name, func(t *testing.T) {
			// src: a0 b1 f2 c3 d4 g5 root6
			// dst: c0 d1 g2 h3 a4 b5 f6 root7
			_, _, m, _ := run(t, mk, src, dst, Options{})
			assert.Equal(t, []mapping.Pair{
				{Src: 0, Dst: 4}, {Src: 1, Dst: 5}, {Src: 2, Dst: 6},
				{Src: 3, Dst: 0}, {Src: 4, Dst: 1}, {Src: 5, Dst: 2},
			}, m.Slice())
		})
	}
}

func TestMatch_AmbiguousPrefersClosestPosition(t *testing.T) {
	p := node("p", leaf("id", "x"), leaf("id", "y"))
	src := node("root", p, leaf("id", "z"))
	dst := node("root", p, p)

	for name, mk := range factories {
		t.Run(name, func(t *testing.T) {
			// src: x0 y1 p2 z3 root4
			// dst: x0 y1 p2 x3 y4 p5 root6
			_, _, m, stats := run(t, mk, src, dst, Options{})
			assert.Equal(t, 2, stats.Ambiguous)
			assert.Equal(t, []mapping.Pair{{0, 0}, {1, 1}, {2, 2}}, m.Slice())
		})
	}
}

func TestMatch_MinHeight(t *testing.T) {
	src := node("root", leaf("id", "a"), leaf("id", "b"))
	dst := node("root", leaf("id", "b"), leaf("id", "a"), leaf("id", "c"))

	_, _, m, _ := run(t, factories["eager"], src, dst, Options{})
	assert.Zero(t, m.Len(), "leaves are below the default floor")

	_, _, m, _ = run(t, factories["eager"], src, dst, Options{MinHeight: 1})
	assert.Equal(t, []mapping.Pair{{0, 1}, {1, 0}}, m.Slice())
}

func TestMatch_Structural(t *testing.T) {
	src := node("root", node("k", leaf("id", "a")), leaf("lit", "1"))
	dst := node("root", node("k", leaf("id", "z")), leaf("lit", "2"))

	_, _, m, _ := run(t, factories["eager"], src, dst, Options{})
	assert.Zero(t, m.Len())

	_, _, m, _ = run(t, factories["eager"], src, dst, Options{Structural: true})
	assert.Equal(t, 4, m.Len(), "shape alone matches")
}

func TestMatch_KeepsExistingPairs(t *testing.T) {
	p := node("p", leaf("id", "x"), leaf("id", "y"))
	src := node("root", p, leaf("id", "z"))
	dst := node("root", p, p)

	reg := types.NewRegistry()
	s := store.New(reg)
	b := ingest.NewBuilder(s, label.New(), reg)
	view := store.FullView{S: s}
	st := decompress.NewEager(view, b.InsertRaw(src))
	dt := decompress.NewEager(view, b.InsertRaw(dst))
	m := mapping.NewMono(st.Len(), dt.Len())
	// claim a descendant of the first dst p up front
	m.Link(3, 0)

	Match(st, dt, m, Options{})
	assert.True(t, m.Has(2, 5), "the free p is chosen")
	assert.True(t, m.Has(3, 0))
}

func TestPositionDistance(t *testing.T) {
	assert.InDelta(t, 0, positionDistance(nil, nil), 1e-9)
	assert.InDelta(t, 1, positionDistance([]int{0, 1}, []int{0}), 1e-9)
	assert.InDelta(t, 5, positionDistance([]int{3}, []int{0, 4}), 1e-9)
}
