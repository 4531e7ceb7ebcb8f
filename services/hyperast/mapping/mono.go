// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mapping holds node correspondences between two arenas.
//
// Mono is the 1:1 mapping every matcher produces. Multi records candidate
// sets during subtree-matching disambiguation and is discarded afterwards.
package mapping

import (
	"fmt"
	"iter"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
)

// Pair is one src/dst correspondence.
type Pair struct {
	Src decompress.IdD
	Dst decompress.IdD
}

// Mono is an injective mapping stored as two parallel arrays holding
// partner+1, zero meaning unmapped.
//
// Link keeps both directions consistent and unlinks any previous partner
// of either side, so the mapping stays injective whatever the call order.
type Mono struct {
	src2dst []uint32
	dst2src []uint32
	n       int
}

// NewMono creates an empty mapping sized for the two arenas.
func NewMono(srcLen, dstLen int) *Mono {
	m := &Mono{}
	m.Topit(srcLen, dstLen)
	return m
}

// Topit clears the mapping and resizes it for arenas of the given sizes.
func (m *Mono) Topit(srcLen, dstLen int) {
	m.src2dst = make([]uint32, srcLen)
	m.dst2src = make([]uint32, dstLen)
	m.n = 0
}

// SrcLen returns the size of the src index space.
func (m *Mono) SrcLen() int { return len(m.src2dst) }

// DstLen returns the size of the dst index space.
func (m *Mono) DstLen() int { return len(m.dst2src) }

// Len returns the number of linked pairs.
func (m *Mono) Len() int { return m.n }

// Link maps src to dst, overwriting earlier partners of both.
func (m *Mono) Link(src, dst decompress.IdD) {
	if old := m.src2dst[src]; old != 0 {
		m.dst2src[old-1] = 0
		m.n--
	}
	if old := m.dst2src[dst]; old != 0 {
		m.src2dst[old-1] = 0
		m.n--
	}
	m.src2dst[src] = uint32(dst) + 1
	m.dst2src[dst] = uint32(src) + 1
	m.n++
}

// LinkIfBothUnmapped links src and dst when neither is mapped and
// reports whether it did.
func (m *Mono) LinkIfBothUnmapped(src, dst decompress.IdD) bool {
	if m.src2dst[src] != 0 || m.dst2src[dst] != 0 {
		return false
	}
	m.src2dst[src] = uint32(dst) + 1
	m.dst2src[dst] = uint32(src) + 1
	m.n++
	return true
}

// Cut removes the pair containing src, if any.
func (m *Mono) Cut(src decompress.IdD) {
	if d := m.src2dst[src]; d != 0 {
		m.dst2src[d-1] = 0
		m.src2dst[src] = 0
		m.n--
	}
}

// IsSrc reports whether src is mapped.
func (m *Mono) IsSrc(src decompress.IdD) bool { return m.src2dst[src] != 0 }

// IsDst reports whether dst is mapped.
func (m *Mono) IsDst(dst decompress.IdD) bool { return m.dst2src[dst] != 0 }

// GetDst returns the partner of src. An unmapped src panics; check IsSrc
// first.
func (m *Mono) GetDst(src decompress.IdD) decompress.IdD {
	d := m.src2dst[src]
	if d == 0 {
		panic(fmt.Sprintf("mapping: src %d is unmapped", src))
	}
	return decompress.IdD(d - 1)
}

// GetSrc returns the partner of dst. An unmapped dst panics; check IsDst
// first.
func (m *Mono) GetSrc(dst decompress.IdD) decompress.IdD {
	s := m.dst2src[dst]
	if s == 0 {
		panic(fmt.Sprintf("mapping: dst %d is unmapped", dst))
	}
	return decompress.IdD(s - 1)
}

// Has reports whether src is mapped to dst.
func (m *Mono) Has(src, dst decompress.IdD) bool {
	return m.src2dst[src] == uint32(dst)+1
}

// Pairs iterates the linked pairs by ascending src.
func (m *Mono) Pairs() iter.Seq[Pair] {
	return func(yield func(Pair) bool) {
		for s, d := range m.src2dst {
			if d == 0 {
				continue
			}
			if !yield(Pair{Src: decompress.IdD(s), Dst: decompress.IdD(d - 1)}) {
				return
			}
		}
	}
}

// Slice returns the linked pairs by ascending src.
func (m *Mono) Slice() []Pair {
	out := make([]Pair, 0, m.n)
	for p := range m.Pairs() {
		out = append(out, p)
	}
	return out
}

// LinkRange links the post-order ranges [srcFirst, srcFirst+n] and
// [dstFirst, dstFirst+n] pairwise, skipping pairs where either side is
// already mapped. It returns the number of pairs linked.
func (m *Mono) LinkRange(srcFirst, dstFirst decompress.IdD, n int) int {
	linked := 0
	for i := 0; i <= n; i++ {
		if m.LinkIfBothUnmapped(srcFirst+decompress.IdD(i), dstFirst+decompress.IdD(i)) {
			linked++
		}
	}
	return linked
}
