// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff wires the arenas and matchers into one run.
//
// A run decompresses both roots, runs either the top-down subtree phase
// or the staged leaf matcher, then bottom-up matching. Each run is
// single-threaded; any number may share one store concurrently.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/mapping"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/bottomup"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/leaf"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/similarity"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/subtree"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

// Stats summarizes a run.
type Stats struct {
	SrcNodes int
	DstNodes int
	Mapped   int

	Subtree    subtree.Stats
	LeafLinked int
	BottomUp   bottomup.Stats

	// RootSimilarity is the Dice similarity of the two roots under the
	// final mapping.
	RootSimilarity float64

	Duration time.Duration
}

// Result is the output of Run. The arenas and mapping belong to the
// caller.
type Result struct {
	ID       uuid.UUID
	Src      decompress.Tree
	Dst      decompress.Tree
	Mappings *mapping.Mono
	Stats    Stats
}

// Pairs returns the final mapping ordered by src index.
func (r *Result) Pairs() []mapping.Pair { return r.Mappings.Slice() }

// Run maps the tree under dst onto the tree under src.
//
// # Inputs
//
//   - ctx: Checked between phases only; matchers are not interruptible.
//   - s: The store holding both roots.
//   - src, dst: Root handles.
//   - opts: Validated first.
//
// # Outputs
//
//   - *Result: Arenas, mapping and stats.
//   - error: ErrInvalidOptions, or the context error.
func Run(ctx context.Context, s *store.Store, src, dst store.NodeID, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	id := uuid.New()
	ctx, span := startRunSpan(ctx, id.String(), opts)
	defer span.End()
	logger := opts.logger().With("diff_id", id.String())
	start := time.Now()

	r := &Result{ID: id}
	ph := phases{ctx: ctx, opts: opts, logger: logger}

	ph.do("decompress", func() {
		var view store.View = store.FullView{S: s}
		if opts.NoSpaces {
			view = store.NewNoSpaceView(s)
		}
		if opts.Arena == LazyArena {
			r.Src, r.Dst = decompress.NewLazy(view, src), decompress.NewLazy(view, dst)
		} else {
			r.Src, r.Dst = decompress.NewEager(view, src), decompress.NewEager(view, dst)
		}
		r.Mappings = mapping.NewMono(r.Src.Len(), r.Dst.Len())
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("diff: after decompress: %w", err)
	}

	switch opts.Algorithm {
	case Similarity:
		ph.do("leaf", func() {
			lm := leaf.New(r.Src, r.Dst, r.Mappings, opts.Labels, leaf.Options{Threshold: opts.LeafThreshold})
			r.Stats.LeafLinked = lm.MatchStmt() + lm.MatchAll()
		})
	default:
		ph.do("subtree", func() {
			r.Stats.Subtree = subtree.Match(r.Src, r.Dst, r.Mappings, subtree.Options{
				MinHeight:  opts.MinHeight,
				Structural: opts.Structural,
			})
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("diff: before bottom-up: %w", err)
	}

	ph.do("bottomup", func() {
		r.Stats.BottomUp = bottomup.Match(r.Src, r.Dst, r.Mappings, bottomup.Options{
			Variant:      opts.Variant,
			SimThreshold: opts.SimThreshold,
			MaxSize:      opts.MaxSize,
			ExactProbe:   opts.ExactProbe,
			Labels:       opts.Labels,
			Logger:       logger,
		})
	})

	r.Stats.SrcNodes = r.Src.Len()
	r.Stats.DstNodes = r.Dst.Len()
	r.Stats.Mapped = r.Mappings.Len()
	r.Stats.RootSimilarity = similarity.Dice(r.Src, r.Dst, r.Mappings, r.Src.Root(), r.Dst.Root())
	r.Stats.Duration = time.Since(start)

	recordRun(ctx, opts.Algorithm.String(), r.Stats.Mapped)
	logger.Debug("diff complete",
		"algorithm", opts.Algorithm.String(),
		"variant", opts.Variant.String(),
		"src_nodes", r.Stats.SrcNodes,
		"dst_nodes", r.Stats.DstNodes,
		"mapped", r.Stats.Mapped,
		"duration", r.Stats.Duration,
	)
	return r, nil
}

type phases struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger
}

func (p phases) do(name string, fn func()) {
	_, span := startPhaseSpan(p.ctx, name)
	start := time.Now()
	fn()
	d := time.Since(start)
	span.End()
	recordPhase(p.ctx, p.opts.Algorithm.String(), name, d)
	p.logger.Debug("diff phase done", "phase", name, "duration", d)
}
