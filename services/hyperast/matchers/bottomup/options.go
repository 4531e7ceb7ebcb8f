// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bottomup

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

// ErrUnknownVariant is returned by ParseVariant.
var ErrUnknownVariant = errors.New("unknown bottom-up variant")

// Variant selects candidate ranking, threshold and recovery strategy.
//
//	Variant  candidates      threshold       recovery
//	Greedy   ranked list     SimThreshold    exact, then simple
//	Simple   ranked list     SimThreshold    simple
//	Lazy     single best     SimThreshold    simple
//	Hybrid   single best     1/(1+ln(size))  exact, then simple
//
// Greedy and Simple resolve conflicts between src containers: a src
// container passes over a dst candidate when a container visited later
// scores strictly higher against it and ranks it first. Lazy and Hybrid
// take the single best candidate as they stream.
//
// Exact recovery is followed by the simple passes over whatever it left
// unmapped.
//
// Lazy is meant to run over a lazy arena; the others over eager ones.
type Variant int

const (
	Greedy Variant = iota
	Simple
	Lazy
	Hybrid
)

var variantNames = [...]string{"greedy", "simple", "lazy", "hybrid"}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// ParseVariant maps a case-insensitive name to a Variant.
func ParseVariant(s string) (Variant, error) {
	for i, n := range variantNames {
		if strings.EqualFold(s, n) {
			return Variant(i), nil
		}
	}
	return Greedy, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// ranked reports whether the variant sorts all candidates of a node.
func (v Variant) ranked() bool { return v == Greedy || v == Simple }

// exact reports whether the variant may use the edit-distance recovery.
func (v Variant) exact() bool { return v == Greedy || v == Hybrid }

// DefaultMaxSize is the descendant count both sides must stay under for
// exact recovery to run.
const DefaultMaxSize = 100

// maxExactCells caps the edit-distance table, whatever MaxSize says.
const maxExactCells = 1 << 24

// Options configures Match.
type Options struct {
	Variant Variant

	// SimThreshold is the minimum Chawathe similarity for accepting a
	// container pair. Zero means one half. Hybrid ignores it.
	SimThreshold similarity.Ratio

	// MaxSize bounds exact recovery: it runs only when both subtrees have
	// fewer descendants. Zero means DefaultMaxSize; negative disables
	// exact recovery.
	MaxSize int

	// ExactProbe, when set, observes the descendant counts of every pair
	// handed to exact recovery.
	ExactProbe func(srcCount, dstCount int)

	// Labels enables the q-gram relabel cost of exact recovery.
	Labels store.LabelSource

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SimThreshold.Den == 0 {
		o.SimThreshold = similarity.Half
	}
	if o.MaxSize == 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
