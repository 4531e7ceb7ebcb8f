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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hyperdiff/pkg/logging"
	"github.com/AleutianAI/hyperdiff/pkg/telemetry"
	"github.com/AleutianAI/hyperdiff/services/hyperast/config"
)

// cli holds the parsed flags and the state PersistentPreRunE sets up.
type cli struct {
	configPath string
	logLevel   string
	snapshot   string
	dumpStats  bool

	// diff overrides
	algorithm  string
	variant    string
	arena      string
	minHeight  int
	maxSize    int
	noSpaces   bool
	structural bool
	showPairs  bool
	jsonOutput bool

	debounce time.Duration

	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "hyperdiff",
		Short: "Structural diff over a hash-consed syntax tree store",
		Long: `hyperdiff parses source files and directories into one deduplicated
node store and computes node mappings between two trees.`,
		SilenceUsage:       true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to hyperdiff.yaml")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&c.snapshot, "snapshot", "", "snapshot database directory")
	root.PersistentFlags().BoolVar(&c.dumpStats, "dump-metrics", false, "print prometheus metrics to stderr on exit")

	diffCmd := &cobra.Command{
		Use:   "diff <src> <dst>",
		Short: "Map the dst tree onto the src tree",
		Long: `Both arguments may be source files or directories. The two trees are
ingested into the same store, so unchanged subtrees share handles.`,
		Args: cobra.ExactArgs(2),
		RunE: c.runDiff, // cmd_diff.go
	}
	f := diffCmd.Flags()
	f.StringVar(&c.algorithm, "algorithm", "", "subtree or similarity")
	f.StringVar(&c.variant, "variant", "", "bottom-up variant: greedy, simple, lazy or hybrid")
	f.StringVar(&c.arena, "arena", "", "eager or lazy")
	f.IntVar(&c.minHeight, "min-height", 0, "top-down height floor")
	f.IntVar(&c.maxSize, "max-size", 0, "exact recovery bound; negative disables it")
	f.BoolVar(&c.noSpaces, "no-spaces", false, "hide whitespace nodes")
	f.BoolVar(&c.structural, "structural", false, "ignore labels in the top-down phase")
	f.BoolVar(&c.showPairs, "pairs", false, "print every mapped pair")
	f.BoolVar(&c.jsonOutput, "json", false, "print the result as JSON")

	ingestCmd := &cobra.Command{
		Use:     "ingest <dir>",
		Short:   "Ingest a directory and report store statistics",
		Long:    `With --snapshot, the store is saved so later runs start warm.`,
		Aliases: []string{"i"},
		Args:    cobra.ExactArgs(1),
		RunE:    c.runIngest, // cmd_ingest.go
	}

	initCmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Diff each new revision of a directory against the previous one",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runWatch, // cmd_watch.go
	}
	wf := watchCmd.Flags()
	wf.StringVar(&c.algorithm, "algorithm", "", "subtree or similarity")
	wf.StringVar(&c.variant, "variant", "", "bottom-up variant: greedy, simple, lazy or hybrid")
	wf.BoolVar(&c.noSpaces, "no-spaces", false, "hide whitespace nodes")
	wf.DurationVar(&c.debounce, "debounce", 0, "quiet period before a revision is diffed")

	root.AddCommand(diffCmd, ingestCmd, watchCmd, initCmd)
	return root
}

// setup loads the configuration, applies the global flags and opens the
// logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.snapshot != "" {
		cfg.Snapshot.Path = c.snapshot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lc, err := cfg.LoggerConfig("hyperdiff")
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()

	tc := cfg.Telemetry
	if c.dumpStats && (tc.MetricExporter == "" || tc.MetricExporter == "none") {
		tc.MetricExporter = "prometheus"
	}
	if tc.Writer == nil {
		tc.Writer = cmd.ErrOrStderr()
	}
	shutdown, err := telemetry.Init(cmd.Context(), tc)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(lc)
	c.shutdown = shutdown
	return nil
}

func (c *cli) teardown(cmd *cobra.Command, _ []string) error {
	var errs []error
	if c.dumpStats {
		errs = append(errs, telemetry.WriteMetrics(cmd.ErrOrStderr()))
	}
	if c.shutdown != nil {
		errs = append(errs, c.shutdown(context.Background()))
	}
	if c.logger != nil {
		errs = append(errs, c.logger.Close())
	}
	return errors.Join(errs...)
}
