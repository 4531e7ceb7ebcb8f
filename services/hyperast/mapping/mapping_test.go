// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mapping

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
)

// checkInjective verifies both directions agree and Len matches.
func checkInjective(t *testing.T, m *Mono) {
	t.Helper()
	count := 0
	for s := 0; s < m.SrcLen(); s++ {
		src := decompress.IdD(s)
		if !m.IsSrc(src) {
			continue
		}
		count++
		d := m.GetDst(src)
		require.True(t, m.IsDst(d))
		require.Equal(t, src, m.GetSrc(d))
	}
	for d := 0; d < m.DstLen(); d++ {
		dst := decompress.IdD(d)
		if m.IsDst(dst) {
			require.Equal(t, dst, m.GetDst(m.GetSrc(dst)))
		}
	}
	require.Equal(t, count, m.Len())
}

func TestMono_Link(t *testing.T) {
	m := NewMono(4, 3)
	assert.Equal(t, 4, m.SrcLen())
	assert.Equal(t, 3, m.DstLen())
	assert.Zero(t, m.Len())

	m.Link(0, 2)
	assert.True(t, m.IsSrc(0))
	assert.True(t, m.IsDst(2))
	assert.Equal(t, decompress.IdD(2), m.GetDst(0))
	assert.Equal(t, decompress.IdD(0), m.GetSrc(2))
	assert.True(t, m.Has(0, 2))
	assert.False(t, m.Has(0, 1))
	assert.Equal(t, 1, m.Len())
	checkInjective(t, m)
}

func TestMono_LinkOverwrites(t *testing.T) {
	m := NewMono(3, 3)
	m.Link(0, 0)
	m.Link(1, 1)

	// 0 takes 1's partner; 1 and the old dst 0 become free
	m.Link(0, 1)
	assert.True(t, m.Has(0, 1))
	assert.False(t, m.IsSrc(1))
	assert.False(t, m.IsDst(0))
	assert.Equal(t, 1, m.Len())
	checkInjective(t, m)
}

func TestMono_LinkIfBothUnmapped(t *testing.T) {
	m := NewMono(2, 2)
	assert.True(t, m.LinkIfBothUnmapped(0, 0))
	assert.False(t, m.LinkIfBothUnmapped(0, 1), "src taken")
	assert.False(t, m.LinkIfBothUnmapped(1, 0), "dst taken")
	assert.True(t, m.LinkIfBothUnmapped(1, 1))
	assert.Equal(t, 2, m.Len())
	checkInjective(t, m)
}

func TestMono_Cut(t *testing.T) {
	m := NewMono(2, 2)
	m.Link(1, 0)
	m.Cut(1)
	assert.False(t, m.IsSrc(1))
	assert.False(t, m.IsDst(0))
	assert.Zero(t, m.Len())

	m.Cut(0)
	assert.Zero(t, m.Len(), "cutting an unmapped src is a no-op")
}

func TestMono_GetUnmappedPanics(t *testing.T) {
	m := NewMono(1, 1)
	assert.Panics(t, func() { m.GetDst(0) })
	assert.Panics(t, func() { m.GetSrc(0) })
}

func TestMono_PairsSortedBySrc(t *testing.T) {
	m := NewMono(5, 5)
	m.Link(4, 0)
	m.Link(1, 3)
	m.Link(2, 2)

	assert.Equal(t, []Pair{{1, 3}, {2, 2}, {4, 0}}, m.Slice())

	var first []Pair
	for p := range m.Pairs() {
		first = append(first, p)
		break
	}
	assert.Equal(t, []Pair{{1, 3}}, first)
}

func TestMono_Topit(t *testing.T) {
	m := NewMono(2, 2)
	m.Link(0, 0)
	m.Topit(5, 1)
	assert.Zero(t, m.Len())
	assert.Equal(t, 5, m.SrcLen())
	assert.Equal(t, 1, m.DstLen())
	assert.False(t, m.IsSrc(0))
}

func TestMono_LinkRange(t *testing.T) {
	m := NewMono(6, 6)
	m.Link(3, 4)
	n := m.LinkRange(2, 3, 2)
	// pairs (2,3) (3,4 already) (4,5)
	assert.Equal(t, 2, n)
	assert.True(t, m.Has(2, 3))
	assert.True(t, m.Has(3, 4))
	assert.True(t, m.Has(4, 5))
	checkInjective(t, m)
}

func TestMono_RandomOpsStayInjective(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m := NewMono(40, 30)
	for i := 0; i < 2000; i++ {
		s := decompress.IdD(rng.IntN(40))
		d := decompress.IdD(rng.IntN(30))
		switch rng.IntN(3) {
		case 0:
			m.Link(s, d)
		case 1:
			m.LinkIfBothUnmapped(s, d)
		default:
			m.Cut(s)
		}
	}
	checkInjective(t, m)
}

func TestMulti(t *testing.T) {
	m := NewMulti(3, 3)
	m.Link(0, 1)
	m.Link(0, 2)
	m.Link(0, 1)
	m.Link(2, 1)

	assert.Equal(t, []decompress.IdD{1, 2}, m.Dsts(0))
	assert.Equal(t, []decompress.IdD{0, 2}, m.Srcs(1))
	assert.False(t, m.IsSrcUnique(0))
	assert.True(t, m.IsSrcUnique(2))
	assert.True(t, m.IsDstUnique(2))
	assert.False(t, m.IsDstUnique(1))
	assert.True(t, m.IsSrc(2))
	assert.False(t, m.IsSrc(1))
	assert.False(t, m.IsDst(0))
	assert.Equal(t, []decompress.IdD{0, 2}, m.AllSrcs())
}
