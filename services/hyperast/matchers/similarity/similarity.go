// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity holds the scoring functions shared by the matchers:
// descendant-set similarities under a partial mapping, string q-gram
// similarities and a generic longest common subsequence.
package similarity

import (
	"fmt"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
)

// =============================================================================
// Thresholds
// =============================================================================

// Ratio is a threshold expressed as Num/Den so configuration stays exact.
type Ratio struct {
	Num uint32 `yaml:"num" validate:"lte=1000000"`
	Den uint32 `yaml:"den" validate:"gt=0"`
}

// Half is the default acceptance threshold.
var Half = Ratio{Num: 1, Den: 2}

// Float returns the ratio as a float64. A zero denominator yields 0.
func (r Ratio) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Valid reports whether the ratio lies in [0, 1] with a non-zero
// denominator.
func (r Ratio) Valid() bool { return r.Den != 0 && r.Num <= r.Den }

// Reached reports whether sim meets the threshold.
func (r Ratio) Reached(sim float64) bool { return sim >= r.Float() }

func (r Ratio) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// =============================================================================
// Descendant-set similarities
// =============================================================================

// CommonDescendants counts the descendants of s that are mapped to a
// descendant of d.
func CommonDescendants(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD) int {
	dst.DecompressDescendants(d)
	lo := dst.FirstDescendant(d)
	common := 0
	for x := range decompress.Descendants(src, s) {
		if !m.IsSrc(x) {
			continue
		}
		if p := m.GetDst(x); p >= lo && p < d {
			common++
		}
	}
	return common
}

// Counts bundles the inputs of the descendant similarities.
type Counts struct {
	Common int
	Src    int
	Dst    int
}

// CountsOf gathers the common and per-side descendant counts of s and d.
func CountsOf(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD) Counts {
	return Counts{
		Common: CommonDescendants(src, dst, m, s, d),
		Src:    src.DescendantsCount(s),
		Dst:    dst.DescendantsCount(d),
	}
}

// Dice returns 2·common/(|src|+|dst|).
func (c Counts) Dice() float64 {
	if c.Src+c.Dst == 0 {
		return 0
	}
	return 2 * float64(c.Common) / float64(c.Src+c.Dst)
}

// Jaccard returns common/(|src|+|dst|-common).
func (c Counts) Jaccard() float64 {
	den := c.Src + c.Dst - c.Common
	if den <= 0 {
		return 0
	}
	return float64(c.Common) / float64(den)
}

// Chawathe returns common/max(|src|, |dst|).
func (c Counts) Chawathe() float64 {
	den := max(c.Src, c.Dst)
	if den == 0 {
		return 0
	}
	return float64(c.Common) / float64(den)
}

// Dice is CountsOf(...).Dice().
func Dice(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD) float64 {
	return CountsOf(src, dst, m, s, d).Dice()
}

// Chawathe is CountsOf(...).Chawathe().
func Chawathe(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD) float64 {
	return CountsOf(src, dst, m, s, d).Chawathe()
}

// Jaccard is CountsOf(...).Jaccard().
func Jaccard(src, dst decompress.Tree, m *mapping.Mono, s, d decompress.IdD) float64 {
	return CountsOf(src, dst, m, s, d).Jaccard()
}
