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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

func (c *cli) runIngest(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	w := newWorkspace(c.cfg, c.logger.Slog())
	defer closeInto(&err, w.close)
	if err := w.warmStart(ctx); err != nil {
		return err
	}

	before := w.store.Stats()
	start := time.Now()
	root, err := w.ingestPath(ctx, args[0])
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	after := w.store.Stats()

	m := w.store.Resolve(root).Metrics()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root:       %d (%d nodes, height %d, %d lines)\n", root, m.Size, m.Height, m.LineCount)
	fmt.Fprintf(out, "store:      %d nodes (+%d)\n", after.Nodes, after.Nodes-before.Nodes)
	fmt.Fprintf(out, "dedup hits: %d\n", after.Hits-before.Hits)
	fmt.Fprintf(out, "labels:     %d\n", w.labels.Len())
	fmt.Fprintf(out, "types:      %d\n", w.reg.Len())
	fmt.Fprintf(out, "elapsed:    %s\n", elapsed.Round(time.Millisecond))

	return w.save(ctx, map[string]store.NodeID{rootName(args[0]): root})
}
