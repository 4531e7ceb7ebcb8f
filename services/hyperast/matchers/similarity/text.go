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

// pad marks the word boundaries so that single-rune strings still have
// grams.
const pad = '\x00'

// grams returns the multiset of q-grams of s padded with q-1 boundary
// runes on each side.
func grams(s string, q int) map[string]int {
	rs := make([]rune, 0, len(s)+2*(q-1))
	for i := 0; i < q-1; i++ {
		rs = append(rs, pad)
	}
	rs = append(rs, []rune(s)...)
	for i := 0; i < q-1; i++ {
		rs = append(rs, pad)
	}
	out := make(map[string]int, len(rs))
	for i := 0; i+q <= len(rs); i++ {
		out[string(rs[i:i+q])]++
	}
	return out
}

// QGramDice returns the Dice coefficient of the padded q-gram multisets
// of a and b. Two empty strings are identical.
func QGramDice(a, b string, q int) float64 {
	if a == b {
		return 1
	}
	ga, gb := grams(a, q), grams(b, q)
	na, nb, common := 0, 0, 0
	for g, ca := range ga {
		na += ca
		common += min(ca, gb[g])
	}
	for _, cb := range gb {
		nb += cb
	}
	if na+nb == 0 {
		return 0
	}
	return 2 * float64(common) / float64(na+nb)
}

// BigramDice is QGramDice with q=2. The leaf matcher scores text with it.
func BigramDice(a, b string) float64 { return QGramDice(a, b, 2) }

// TrigramDice is QGramDice with q=3. The exact matcher derives relabel
// costs from it.
func TrigramDice(a, b string) float64 { return QGramDice(a, b, 3) }
