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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hyperdiff/services/hyperast/diff"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/watch"
)

// runWatch re-ingests a directory on every batch of changes and diffs the
// previous revision against the new one. Unchanged files reuse their
// nodes, so each revision only pays for what changed.
func (c *cli) runWatch(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := c.diffOptions(cmd)
	if err != nil {
		return err
	}
	w := newWorkspace(c.cfg, c.logger.Slog())
	defer closeInto(&err, w.close)
	if err := w.warmStart(ctx); err != nil {
		return err
	}
	opts.Labels = w.labels
	opts.Logger = c.logger.Slog()

	dir := args[0]
	prev, err := w.ingestPath(ctx, dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s (root %d, %d nodes)\n", dir, prev, w.store.Resolve(prev).Metrics().Size)

	wo := watch.DefaultOptions()
	if cmd.Flags().Changed("debounce") {
		wo.Debounce = c.debounce
	}
	wo.Logger = c.logger.Slog()
	watcher, err := watch.New(dir, wo)
	if err != nil {
		return err
	}
	defer watcher.Close()

	rev := 0
	err = watcher.Run(ctx, func(ctx context.Context, changes []watch.Change) error {
		before := w.store.Stats().Nodes
		cur, err := w.ingestPath(ctx, dir)
		if err != nil {
			c.logger.Warn("re-ingest failed", "error", err)
			return nil
		}
		rev++
		if cur == prev {
			fmt.Fprintf(out, "rev %d: %d changes, tree unchanged\n", rev, len(changes))
			return nil
		}
		res, err := diff.Run(ctx, w.store, prev, cur, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rev %d: %d changes, +%d nodes, %d/%d mapped, similarity %.3f\n",
			rev, len(changes), w.store.Stats().Nodes-before,
			res.Stats.Mapped, res.Stats.DstNodes, res.Stats.RootSimilarity)
		prev = cur
		return nil
	})
	if err != nil {
		return err
	}
	return w.save(context.Background(), map[string]store.NodeID{rootName(dir): prev})
}
