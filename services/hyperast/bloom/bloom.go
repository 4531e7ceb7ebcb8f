// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bloom builds the per-subtree reference summaries kept in the
// node store's side-table.
//
// A Summary answers "may this subtree reference name X?". It is sized from
// a fixed ladder of bit widths picked by the estimated reference count.
// Subtrees with more references than the configured cap get the TooLarge
// sentinel, which answers "maybe" for every query. A summary only prunes
// searches; it never decides correctness.
package bloom

import (
	"errors"
	"math"
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Kind distinguishes real filters from the two sentinels.
type Kind uint8

const (
	// Empty summarizes a subtree with no references. It never matches.
	Empty Kind = iota

	// Filter is a real bit set.
	Filter

	// TooLarge summarizes a subtree with more than MaxRefs references.
	// It always matches.
	TooLarge
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Filter:
		return "filter"
	case TooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Widths is the ladder of filter sizes in bits.
var Widths = [...]int{64, 128, 256, 512, 1024, 2048}

const (
	// DefaultMaxRefs is the reference count above which a subtree is
	// summarized as TooLarge.
	DefaultMaxRefs = 256

	// BitsPerRef is the target load used to pick a width from the ladder.
	BitsPerRef = 8

	maxK = 8
)

var (
	ErrBadWidth = errors.New("bloom: width not on the ladder")
	ErrBadK     = errors.New("bloom: k out of range")
	ErrBadKind  = errors.New("bloom: unknown kind")
)

var (
	emptySummary    = &Summary{kind: Empty}
	tooLargeSummary = &Summary{kind: TooLarge}
)

// Summary is an immutable-after-build reference filter. Sentinels carry
// no bit set.
type Summary struct {
	kind Kind
	k    uint8
	set  *bitset.BitSet
}

// WidthFor returns the ladder width for n expected references.
func WidthFor(n int) int {
	want := n * BitsPerRef
	for _, w := range Widths {
		if w >= want {
			return w
		}
	}
	return Widths[len(Widths)-1]
}

// New returns an empty filter sized for n expected references, or one of
// the sentinels when n is zero or above maxRefs. maxRefs <= 0 selects
// DefaultMaxRefs.
func New(n, maxRefs int) *Summary {
	if maxRefs <= 0 {
		maxRefs = DefaultMaxRefs
	}
	switch {
	case n <= 0:
		return emptySummary
	case n > maxRefs:
		return tooLargeSummary
	}
	width := WidthFor(n)
	k := int(math.Round(float64(width) / float64(n) * math.Ln2))
	k = max(1, min(k, maxK))
	return &Summary{
		kind: Filter,
		k:    uint8(k),
		set:  bitset.New(uint(width)),
	}
}

// Build summarizes refs. Duplicate refs are counted once only if the caller
// deduplicated them.
func Build(refs []string, maxRefs int) *Summary {
	s := New(len(refs), maxRefs)
	if s.kind != Filter {
		return s
	}
	for _, r := range refs {
		s.add(r)
	}
	return s
}

// FromWords rebuilds a Summary from its exported parts.
func FromWords(kind Kind, k uint8, words []uint64) (*Summary, error) {
	switch kind {
	case Empty:
		return emptySummary, nil
	case TooLarge:
		return tooLargeSummary, nil
	case Filter:
	default:
		return nil, ErrBadKind
	}
	if k == 0 || k > maxK {
		return nil, ErrBadK
	}
	ok := false
	for _, w := range Widths {
		if len(words)*64 == w {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrBadWidth
	}
	out := make([]uint64, len(words))
	copy(out, words)
	return &Summary{kind: Filter, k: k, set: bitset.From(out)}, nil
}

func hashPair(ref string) (h1, h2 uint64) {
	h1 = xxhash.Sum64String(ref)
	h2 = bits.RotateLeft64(h1, 32) | 1
	return h1, h2
}

// probes returns the k bit positions of ref.
func (s *Summary) probes(ref string) []uint {
	m := uint64(s.set.Len())
	h1, h2 := hashPair(ref)
	out := make([]uint, s.k)
	for i := range out {
		out[i] = uint((h1 + uint64(i)*h2) % m)
	}
	return out
}

func (s *Summary) add(ref string) {
	for _, j := range s.probes(ref) {
		s.set.Set(j)
	}
}

// MayContain reports whether ref may be referenced in the subtree.
// False is definitive; true may be a false positive.
func (s *Summary) MayContain(ref string) bool {
	switch s.kind {
	case Empty:
		return false
	case TooLarge:
		return true
	}
	for _, j := range s.probes(ref) {
		if !s.set.Test(j) {
			return false
		}
	}
	return true
}

// Kind returns the summary kind.
func (s *Summary) Kind() Kind { return s.kind }

// K returns the number of probes per reference; zero for sentinels.
func (s *Summary) K() uint8 { return s.k }

// Bits returns the filter width; zero for sentinels.
func (s *Summary) Bits() int {
	if s.set == nil {
		return 0
	}
	return int(s.set.Len())
}

// Words returns a copy of the bit set, bit j in word j/64 at position
// j%64. Sentinels return an empty slice.
func (s *Summary) Words() []uint64 {
	if s.set == nil {
		return []uint64{}
	}
	words := s.set.Words()
	out := make([]uint64, len(words))
	copy(out, words)
	return out
}
