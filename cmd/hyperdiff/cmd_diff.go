// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/hyperdiff/pkg/telemetry"
	"github.com/AleutianAI/hyperdiff/services/hyperast/decompress"
	"github.com/AleutianAI/hyperdiff/services/hyperast/diff"
	"github.com/AleutianAI/hyperdiff/services/hyperast/matchers/bottomup"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

func (c *cli) runDiff(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	opts, err := c.diffOptions(cmd)
	if err != nil {
		return err
	}

	w := newWorkspace(c.cfg, c.logger.Slog())
	defer closeInto(&err, w.close)
	if err := w.warmStart(ctx); err != nil {
		return err
	}
	src, err := w.ingestPath(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ingest src: %w", err)
	}
	dst, err := w.ingestPath(ctx, args[1])
	if err != nil {
		return fmt.Errorf("ingest dst: %w", err)
	}

	opts.Labels = w.labels
	opts.Logger = c.logger.Slog()
	ctx, span := otel.Tracer("hyperdiff").Start(ctx, "hyperdiff.diff")
	defer span.End()
	res, err := diff.Run(ctx, w.store, src, dst, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("diff done",
		"id", res.ID.String(),
		"mapped", res.Stats.Mapped,
		"trace_id", telemetry.TraceID(ctx),
	)

	out := cmd.OutOrStdout()
	if c.jsonOutput {
		err = writeJSON(out, w, res, c.showPairs)
	} else {
		writeText(out, w, res, c.showPairs)
	}
	if err != nil {
		return err
	}
	return w.save(ctx, map[string]store.NodeID{rootName(args[0]): src, rootName(args[1]): dst})
}

// diffOptions starts from the configuration and applies the flags the
// user set explicitly.
func (c *cli) diffOptions(cmd *cobra.Command) (diff.Options, error) {
	opts, err := c.cfg.DiffOptions()
	if err != nil {
		return diff.Options{}, err
	}
	f := cmd.Flags()
	if f.Changed("algorithm") {
		if opts.Algorithm, err = diff.ParseAlgorithm(c.algorithm); err != nil {
			return diff.Options{}, err
		}
	}
	if f.Changed("variant") {
		if opts.Variant, err = bottomup.ParseVariant(c.variant); err != nil {
			return diff.Options{}, err
		}
	}
	if f.Changed("arena") {
		if opts.Arena, err = diff.ParseArena(c.arena); err != nil {
			return diff.Options{}, err
		}
	}
	if f.Changed("min-height") {
		opts.MinHeight = c.minHeight
	}
	if f.Changed("max-size") {
		opts.MaxSize = c.maxSize
	}
	if f.Changed("no-spaces") {
		opts.NoSpaces = c.noSpaces
	}
	if f.Changed("structural") {
		opts.Structural = c.structural
	}
	return opts, nil
}

type nodeJSON struct {
	Index uint32 `json:"index"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

type pairJSON struct {
	Src nodeJSON `json:"src"`
	Dst nodeJSON `json:"dst"`
}

type resultJSON struct {
	ID             string     `json:"id"`
	SrcNodes       int        `json:"src_nodes"`
	DstNodes       int        `json:"dst_nodes"`
	Mapped         int        `json:"mapped"`
	RootSimilarity float64    `json:"root_similarity"`
	DurationMS     int64      `json:"duration_ms"`
	Pairs          []pairJSON `json:"pairs,omitempty"`
}

func describe(w *workspace, t decompress.Tree, x decompress.IdD) nodeJSON {
	v := w.store.Resolve(t.Handle(x))
	n := nodeJSON{Index: uint32(x), Type: w.reg.Name(v.Type())}
	if v.HasLabel() {
		n.Label = w.labels.Lookup(v.Label())
	}
	return n
}

func writeJSON(out io.Writer, w *workspace, res *diff.Result, pairs bool) error {
	r := resultJSON{
		ID:             res.ID.String(),
		SrcNodes:       res.Stats.SrcNodes,
		DstNodes:       res.Stats.DstNodes,
		Mapped:         res.Stats.Mapped,
		RootSimilarity: res.Stats.RootSimilarity,
		DurationMS:     res.Stats.Duration.Milliseconds(),
	}
	if pairs {
		for p := range res.Mappings.Pairs() {
			r.Pairs = append(r.Pairs, pairJSON{Src: describe(w, res.Src, p.Src), Dst: describe(w, res.Dst, p.Dst)})
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeText(out io.Writer, w *workspace, res *diff.Result, pairs bool) {
	s := res.Stats
	fmt.Fprintf(out, "diff %s\n", res.ID)
	fmt.Fprintf(out, "src nodes:       %d\n", s.SrcNodes)
	fmt.Fprintf(out, "dst nodes:       %d\n", s.DstNodes)
	fmt.Fprintf(out, "mapped:          %d\n", s.Mapped)
	fmt.Fprintf(out, "  top-down:      %d\n", s.Subtree.Linked)
	fmt.Fprintf(out, "  leaf:          %d\n", s.LeafLinked)
	fmt.Fprintf(out, "  bottom-up:     %d (%d containers, %d exact)\n", s.BottomUp.Linked, s.BottomUp.Containers, s.BottomUp.Exact)
	fmt.Fprintf(out, "root similarity: %.3f\n", s.RootSimilarity)
	fmt.Fprintf(out, "duration:        %s\n", s.Duration)
	if !pairs {
		return
	}
	for p := range res.Mappings.Pairs() {
		sn, dn := describe(w, res.Src, p.Src), describe(w, res.Dst, p.Dst)
		fmt.Fprintf(out, "%6d -> %-6d %s %q\n", sn.Index, dn.Index, sn.Type, sn.Label)
	}
}
