// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package similarity

import "znkr.io/diff"

// IndexPair is one matched position of an LCS.
type IndexPair struct {
	A, B int
}

// LCS returns the positions of a common subsequence of a and b under eq,
// in ascending order. It is the match set of a Myers diff over the two
// index ranges; eq must be an equivalence. Short inputs get a longest
// common subsequence, very long ones may get a slightly shorter one.
func LCS[T any](a, b []T, eq func(x, y T) bool) []IndexPair {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	edits := diff.EditsFunc(indices(len(a)), indices(len(b)), func(i, j int) bool {
		return eq(a[i], b[j])
	})
	out := make([]IndexPair, 0, min(len(a), len(b)))
	for _, e := range edits {
		if e.Op == diff.Match {
			out = append(out, IndexPair{A: e.X, B: e.Y})
		}
	}
	return out
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// LCSRatio returns 2·|lcs|/(|a|+|b|), or 1 when both are empty.
func LCSRatio[T any](a, b []T, eq func(x, y T) bool) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	return 2 * float64(len(LCS(a, b, eq))) / float64(len(a)+len(b))
}
