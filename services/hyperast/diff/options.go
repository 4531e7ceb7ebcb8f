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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/bottomup"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/subtree"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

// Algorithm selects the phase before bottom-up matching.
type Algorithm int

const (
	// Subtree runs the top-down isomorphism phase.
	Subtree Algorithm = iota

	// Similarity runs the leaf matcher on statements, then on all leaves.
	Similarity
)

func (a Algorithm) String() string {
	switch a {
	case Subtree:
		return "subtree"
	case Similarity:
		return "similarity"
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// ParseAlgorithm maps a case-insensitive name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "subtree", "gumtree":
		return Subtree, nil
	case "similarity", "leaf":
		return Similarity, nil
	}
	return Subtree, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// ArenaKind selects how the two trees are decompressed.
type ArenaKind int

const (
	EagerArena ArenaKind = iota
	LazyArena
)

func (k ArenaKind) String() string {
	switch k {
	case EagerArena:
		return "eager"
	case LazyArena:
		return "lazy"
	}
	return fmt.Sprintf("arena(%d)", int(k))
}

// ParseArena maps a case-insensitive name to an ArenaKind.
func ParseArena(s string) (ArenaKind, error) {
	switch strings.ToLower(s) {
	case "eager":
		return EagerArena, nil
	case "lazy":
		return LazyArena, nil
	}
	return EagerArena, fmt.Errorf("%w: %q", ErrUnknownArena, s)
}

// Options configures Run.
type Options struct {
	Algorithm Algorithm
	Variant   bottomup.Variant
	Arena     ArenaKind

	// MinHeight is the top-down floor.
	MinHeight int

	// MaxSize bounds exact recovery; negative disables it.
	MaxSize int

	// SimThreshold is the bottom-up acceptance ratio.
	SimThreshold similarity.Ratio

	// LeafThreshold is the text similarity ratio of the Similarity
	// algorithm.
	LeafThreshold similarity.Ratio

	// Structural makes the top-down phase ignore labels.
	Structural bool

	// NoSpaces hides whitespace and hidden nodes from both arenas.
	NoSpaces bool

	// Labels resolves label text. Required by the Similarity algorithm;
	// enables the q-gram relabel cost of exact recovery otherwise.
	Labels store.LabelSource

	// ExactProbe observes every exact recovery call.
	ExactProbe func(srcCount, dstCount int)

	Logger *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Algorithm:     Subtree,
		Variant:       bottomup.Greedy,
		Arena:         EagerArena,
		MinHeight:     subtree.DefaultMinHeight,
		MaxSize:       bottomup.DefaultMaxSize,
		SimThreshold:  similarity.Half,
		LeafThreshold: similarity.Half,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidOptions.
func (o Options) Validate() error {
	switch {
	case o.Algorithm != Subtree && o.Algorithm != Similarity:
		return fmt.Errorf("%w: algorithm %s", ErrInvalidOptions, o.Algorithm)
	case o.Variant < bottomup.Greedy || o.Variant > bottomup.Hybrid:
		return fmt.Errorf("%w: variant %s", ErrInvalidOptions, o.Variant)
	case o.Arena != EagerArena && o.Arena != LazyArena:
		return fmt.Errorf("%w: arena %s", ErrInvalidOptions, o.Arena)
	case o.MinHeight < 1:
		return fmt.Errorf("%w: min height %d < 1", ErrInvalidOptions, o.MinHeight)
	case !o.SimThreshold.Valid():
		return fmt.Errorf("%w: similarity threshold %s", ErrInvalidOptions, o.SimThreshold)
	case o.Algorithm == Similarity && !o.LeafThreshold.Valid():
		return fmt.Errorf("%w: leaf threshold %s", ErrInvalidOptions, o.LeafThreshold)
	case o.Algorithm == Similarity && o.Labels == nil:
		return fmt.Errorf("%w: similarity algorithm needs labels", ErrInvalidOptions)
	}
	return nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
