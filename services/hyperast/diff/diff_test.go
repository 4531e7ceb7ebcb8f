// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/ingest"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/bottomup"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

var (
	lf = ingest.Leaf
	nd = ingest.Node
)

type corpus struct {
	s      *store.Store
	labels *label.Interner
	b      *ingest.Builder
}

func newCorpus() *corpus {
	reg := types.NewRegistry()
	reg.Mark("stmt", types.CatStatement)
	s := store.New(reg)
	labels := label.New()
	return &corpus{s: s, labels: labels, b: ingest.NewBuilder(s, labels, reg)}
}

func stmt(id, lit string) ingest.Raw {
	return nd("stmt", lf("id", id), lf(types.SpacesName, " "), lf("lit", lit))
}

func revisions(c *corpus) (store.NodeID, store.NodeID) {
	src := c.b.InsertRaw(nd("block", stmt("a", "1"), stmt("b", "2"), stmt("c", "3")))
	dst := c.b.InsertRaw(nd("block", stmt("b", "2"), stmt("a", "1"), stmt("c", "4"), stmt("d", "5")))
	return src, dst
}

func TestRun_Configurations(t *testing.T) {
	algorithms := []Algorithm{Subtree, Similarity}
	arenas := []ArenaKind{EagerArena, LazyArena}
	variants := []bottomup.Variant{bottomup.Greedy, bottomup.Simple, bottomup.Lazy, bottomup.Hybrid}

	for _, alg := range algorithms {
		for _, arena := range arenas {
			for _, v := range variants {
				for _, noSpaces := range []bool{false, true} {
					name := alg.String() + "/" + arena.String() + "/" + v.String()
					if noSpaces {
						name += "/nospaces"
					}
					t.Run(name, func(t *testing.T) {
						c := newCorpus()
						src, dst := revisions(c)
						opts := DefaultOptions()
						opts.Algorithm, opts.Arena, opts.Variant, opts.NoSpaces = alg, arena, v, noSpaces
						opts.Labels = c.labels

						r, err := Run(context.Background(), c.s, src, dst, opts)
						require.NoError(t, err)
						assert.True(t, r.Mappings.Has(r.Src.Root(), r.Dst.Root()))
						assert.Equal(t, r.Mappings.Len(), r.Stats.Mapped)
						assert.Equal(t, r.Src.Len(), r.Stats.SrcNodes)
						assert.Greater(t, r.Stats.RootSimilarity, 0.5)

						// the untouched statements are mapped whole
						for _, want := range []string{"a", "b"} {
							s := findLeaf(t, c, r.Src, want)
							require.True(t, r.Mappings.IsSrc(s), want)
							d := r.Mappings.GetDst(s)
							assert.Equal(t, want, c.labels.Lookup(c.s.Resolve(r.Dst.Handle(d)).Label()))
						}
					})
				}
			}
		}
	}
}

func findLeaf(t *testing.T, c *corpus, tree decompress.Tree, text string) decompress.IdD {
	t.Helper()
	for x := range decompress.PostOrder(tree) {
		v := c.s.Resolve(tree.Handle(x))
		if v.HasLabel() && c.labels.Lookup(v.Label()) == text {
			return x
		}
	}
	t.Fatalf("no leaf %q", text)
	return 0
}

func TestRun_IdenticalRoots(t *testing.T) {
	c := newCorpus()
	src, _ := revisions(c)
	r, err := Run(context.Background(), c.s, src, src, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, r.Src.Len(), r.Mappings.Len())
	for i, p := range r.Pairs() {
		assert.Equal(t, decompress.IdD(i), p.Src)
		assert.Equal(t, p.Src, p.Dst)
	}
	assert.InDelta(t, 1.0, r.Stats.RootSimilarity, 1e-9)
	assert.Equal(t, 1, r.Stats.Subtree.Unique)
}

func TestRun_UniqueIDs(t *testing.T) {
	c := newCorpus()
	src, dst := revisions(c)
	a, err := Run(context.Background(), c.s, src, dst, DefaultOptions())
	require.NoError(t, err)
	b, err := Run(context.Background(), c.s, src, dst, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Pairs(), b.Pairs(), "runs are deterministic")
}

func TestRun_ExactRecoveryCalls(t *testing.T) {
	c := newCorpus()
	src, dst := revisions(c)
	opts := DefaultOptions()
	opts.MaxSize = 2
	var calls [][2]int
	opts.ExactProbe = func(sc, dc int) { calls = append(calls, [2]int{sc, dc}) }

	_, err := Run(context.Background(), c.s, src, dst, opts)
	require.NoError(t, err)
	for _, call := range calls {
		assert.True(t, call[0] < 2 && call[1] < 2, "exact call %v", call)
	}
}

func TestRun_SimilarityReachesInnerContainers(t *testing.T) {
	c := newCorpus()
	// src: foo0 bar1 expr2 1_3 stmt4 block5
	// dst: foo0 bar1 baz2 expr3 1_4 stmt5 block6
	src := c.b.InsertRaw(nd("block", nd("stmt", nd("expr", lf("id", "foo"), lf("id", "bar")), lf("lit", "1"))))
	dst := c.b.InsertRaw(nd("block", nd("stmt", nd("expr", lf("id", "foo"), lf("id", "bar"), lf("id", "baz")), lf("lit", "1"))))

	for _, v := range []bottomup.Variant{bottomup.Simple, bottomup.Greedy, bottomup.Lazy, bottomup.Hybrid} {
		t.Run(v.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Algorithm, opts.Variant, opts.Labels = Similarity, v, c.labels
			if v == bottomup.Lazy {
				opts.Arena = LazyArena
			}
			r, err := Run(context.Background(), c.s, src, dst, opts)
			require.NoError(t, err)
			assert.True(t, r.Mappings.Has(4, 5), "statements")
			assert.True(t, r.Mappings.Has(2, 3), "expression under a mapped statement")
			assert.Equal(t, 6, r.Mappings.Len())
		})
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	c := newCorpus()
	src, dst := revisions(c)

	tests := []struct {
		name string
		mut  func(*Options)
	}{
		{"zero options", func(o *Options) { *o = Options{} }},
		{"bad algorithm", func(o *Options) { o.Algorithm = Algorithm(5) }},
		{"bad variant", func(o *Options) { o.Variant = bottomup.Variant(9) }},
		{"bad arena", func(o *Options) { o.Arena = ArenaKind(3) }},
		{"min height", func(o *Options) { o.MinHeight = 0 }},
		{"threshold above one", func(o *Options) { o.SimThreshold = similarity.Ratio{Num: 3, Den: 2} }},
		{"similarity without labels", func(o *Options) { o.Algorithm = Similarity }},
		{"leaf threshold", func(o *Options) {
			o.Algorithm = Similarity
			o.Labels = c.labels
			o.LeafThreshold = similarity.Ratio{Num: 1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mut(&opts)
			_, err := Run(context.Background(), c.s, src, dst, opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	c := newCorpus()
	src, dst := revisions(c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, c.s, src, dst, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParse(t *testing.T) {
	a, err := ParseAlgorithm("GumTree")
	require.NoError(t, err)
	assert.Equal(t, Subtree, a)
	a, err = ParseAlgorithm("similarity")
	require.NoError(t, err)
	assert.Equal(t, Similarity, a)
	_, err = ParseAlgorithm("rted")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	k, err := ParseArena("LAZY")
	require.NoError(t, err)
	assert.Equal(t, LazyArena, k)
	_, err = ParseArena("mmap")
	assert.ErrorIs(t, err, ErrUnknownArena)

	assert.Equal(t, "algorithm(4)", Algorithm(4).String())
	assert.Equal(t, "arena(4)", ArenaKind(4).String())
}
