// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package zs

import (
	"slices"
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

type env struct {
	labels *label.Interner
	src    decompress.Tree
	dst    decompress.Tree
}

func build(src, dst ingest.Raw) env {
	reg := types.NewRegistry()
	s := store.New(reg)
	labels := label.New()
	b := ingest.NewBuilder(s, labels, reg)
	view := store.FullView{S: s}
	return env{
		labels: labels,
		src:    decompress.NewEager(view, b.InsertRaw(src)),
		dst:    decompress.NewLazy(view, b.InsertRaw(dst)),
	}
}

func sorted(ps []mapping.Pair) []mapping.Pair {
	out := slices.Clone(ps)
	slices.SortFunc(out, func(a, b mapping.Pair) int { return int(a.Src) - int(b.Src) })
	return out
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		src, dst ingest.Raw
		distance float64
		pairs    []mapping.Pair
	}{
		{
			name:     "identical",
			src:      node("f", leaf("id", "a"), node("g", leaf("id", "b"))),
			dst:      node("f", leaf("id", "a"), node("g", leaf("id", "b"))),
			distance: 0,
			pairs:    []mapping.Pair{{0, 0}, {1, 1}, {2, 2}, {3, 3}},
		},
		{
			name:     "relabel",
			src:      node("f", leaf("id", "a"), leaf("id", "b")),
			dst:      node("f", leaf("id", "a"), leaf("id", "c")),
			distance: 1,
			pairs:    []mapping.Pair{{0, 0}, {1, 1}, {2, 2}},
		},
		{
			name:     "insert",
			src:      node("f", leaf("id", "a")),
			dst:      node("f", leaf("id", "a"), leaf("id", "b")),
			distance: 1,
			pairs:    []mapping.Pair{{0, 0}, {1, 2}},
		},
		{
			name:     "root type change",
			src:      node("f", leaf("id", "a")),
			dst:      node("g", leaf("id", "a")),
			distance: 2,
			pairs:    []mapping.Pair{{0, 0}},
		},
		{
			name:     "leaf type change is not a relabel",
			src:      node("f", leaf("id", "a")),
			dst:      node("f", leaf("lit", "a")),
			distance: 2,
			pairs:    []mapping.Pair{{1, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := build(tt.src, tt.dst)
			res := Match(e.src, e.dst, e.src.Root(), e.dst.Root(), Options{})
			assert.InDelta(t, tt.distance, res.Distance, 1e-9)
			assert.Equal(t, tt.pairs, sorted(res.Pairs))
		})
	}
}

func TestMatch_QGramRelabel(t *testing.T) {
	e := build(
		node("f", leaf("id", "counter")),
		node("f", leaf("id", "counters")),
	)
	plain := Match(e.src, e.dst, e.src.Root(), e.dst.Root(), Options{})
	withText := Match(e.src, e.dst, e.src.Root(), e.dst.Root(), Options{Labels: e.labels})

	assert.InDelta(t, 1.0, plain.Distance, 1e-9)
	assert.Less(t, withText.Distance, 1.0, "similar labels relabel cheaply")
	assert.Greater(t, withText.Distance, 0.0)
	assert.Len(t, withText.Pairs, 2)
}

func TestMatch_Subtrees(t *testing.T) {
	// only the second child subtrees are compared
	e := build(
		node("r", leaf("id", "x"), node("g", leaf("id", "a"), leaf("id", "b"))),
		node("r", node("g", leaf("id", "a"), leaf("id", "z")), leaf("id", "y")),
	)
	// src: x0 a1 b2 g3 r4; dst: a0 z1 g2 y3 r4
	res := Match(e.src, e.dst, 3, 2, Options{})
	assert.InDelta(t, 1.0, res.Distance, 1e-9)
	assert.Equal(t, []mapping.Pair{{1, 0}, {2, 1}, {3, 2}}, sorted(res.Pairs))
}

func TestLink_SkipsMapped(t *testing.T) {
	e := build(
		node("f", leaf("id", "a"), leaf("id", "b")),
		node("f", leaf("id", "a"), leaf("id", "b")),
	)
	m := mapping.NewMono(e.src.Len(), e.dst.Len())
	m.Link(0, 1)

	n := Link(e.src, e.dst, m, e.src.Root(), e.dst.Root(), Options{})
	require.Equal(t, 1, n, "only the roots were free")
	assert.True(t, m.Has(2, 2))
	assert.True(t, m.Has(0, 1))
	assert.False(t, m.IsSrc(1))
}
