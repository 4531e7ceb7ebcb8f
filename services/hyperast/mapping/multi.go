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
	"slices"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
)

// Multi records candidate partners on both sides. Lists keep insertion
// order and hold no duplicates.
type Multi struct {
	src2dsts [][]decompress.IdD
	dst2srcs [][]decompress.IdD
}

// NewMulti creates an empty multi-mapping sized for the two arenas.
func NewMulti(srcLen, dstLen int) *Multi {
	return &Multi{
		src2dsts: make([][]decompress.IdD, srcLen),
		dst2srcs: make([][]decompress.IdD, dstLen),
	}
}

// Link records src and dst as candidates of each other.
func (m *Multi) Link(src, dst decompress.IdD) {
	if slices.Contains(m.src2dsts[src], dst) {
		return
	}
	m.src2dsts[src] = append(m.src2dsts[src], dst)
	m.dst2srcs[dst] = append(m.dst2srcs[dst], src)
}

// Dsts returns the candidates of src. The slice must not be modified.
func (m *Multi) Dsts(src decompress.IdD) []decompress.IdD { return m.src2dsts[src] }

// Srcs returns the candidates of dst. The slice must not be modified.
func (m *Multi) Srcs(dst decompress.IdD) []decompress.IdD { return m.dst2srcs[dst] }

func (m *Multi) IsSrc(src decompress.IdD) bool       { return len(m.src2dsts[src]) > 0 }
func (m *Multi) IsDst(dst decompress.IdD) bool       { return len(m.dst2srcs[dst]) > 0 }
func (m *Multi) IsSrcUnique(src decompress.IdD) bool { return len(m.src2dsts[src]) == 1 }
func (m *Multi) IsDstUnique(dst decompress.IdD) bool { return len(m.dst2srcs[dst]) == 1 }

// AllSrcs returns every src with at least one candidate, ascending.
func (m *Multi) AllSrcs() []decompress.IdD {
	var out []decompress.IdD
	for s, d := range m.src2dsts {
		if len(d) > 0 {
			out = append(out, decompress.IdD(s))
		}
	}
	return out
}
