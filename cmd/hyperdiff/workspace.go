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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/hyperdiff/services/hyperast/config"
	"github.com/AleutianAI/hyperdiff/services/hyperast/ingest"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/snapshot"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// workspace is the shared store every command ingests into.
type workspace struct {
	reg     *types.Registry
	labels  *label.Interner
	store   *store.Store
	parsers *ingest.ParserRegistry
	cfg     config.Config
	logger  *slog.Logger

	db *snapshot.DB
}

func newWorkspace(cfg config.Config, logger *slog.Logger) *workspace {
	reg := types.NewRegistry()
	return &workspace{
		reg:    reg,
		labels: label.New(),
		store:  store.New(reg),
		parsers: ingest.DefaultRegistry(
			ingest.WithMaxFileSize(cfg.Ingest.MaxFileSize),
			ingest.WithLogger(logger),
		),
		cfg:    cfg,
		logger: logger,
	}
}

// warmStart opens the configured snapshot database and loads it. Without
// a configured path it does nothing. A missing or stale snapshot is not
// an error; the store simply starts cold.
func (w *workspace) warmStart(ctx context.Context) error {
	if w.cfg.Snapshot.Path == "" {
		return nil
	}
	sc := w.cfg.Snapshot
	sc.Logger = w.logger
	db, err := snapshot.Open(sc)
	if err != nil {
		return err
	}
	w.db = db

	loaded, err := snapshot.Load(ctx, db, w.store, w.labels, w.reg)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		w.logger.Info("no snapshot found, starting cold", "path", sc.Path)
		return nil
	case errors.Is(err, snapshot.ErrFormatMismatch), errors.Is(err, snapshot.ErrCorrupt):
		w.logger.Warn("ignoring unusable snapshot", "path", sc.Path, "error", err)
		return nil
	case err != nil:
		return err
	}
	w.logger.Info("snapshot loaded",
		"nodes", len(loaded.Remap),
		"roots", len(loaded.Roots),
		"labels", loaded.Manifest.Labels,
	)
	return nil
}

// save writes the store to the snapshot database, if one is open.
func (w *workspace) save(ctx context.Context, roots map[string]store.NodeID) error {
	if w.db == nil {
		return nil
	}
	man, err := snapshot.Save(ctx, w.db, w.store, w.labels, w.reg, roots)
	if err != nil {
		return err
	}
	w.logger.Info("snapshot saved", "nodes", man.Nodes, "labels", man.Labels, "types", man.Types)
	return nil
}

func (w *workspace) close() error {
	if w.db == nil {
		return nil
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

// closeInto runs close and stores its error in *errp unless an earlier
// error is already there. Use it with a named return in a defer.
func closeInto(errp *error, close func() error) {
	if err := close(); err != nil && *errp == nil {
		*errp = err
	}
}

// ingestPath inserts a file or a directory and returns its root.
func (w *workspace) ingestPath(ctx context.Context, path string) (store.NodeID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		res, err := ingest.Directory(ctx, w.parsers, w.store, w.labels, w.reg, path, ingest.DirectoryOptions{
			Parallelism: w.cfg.Ingest.Parallelism,
			MaxRefs:     w.cfg.Ingest.MaxRefs,
			Logger:      w.logger,
		})
		if err != nil {
			return 0, err
		}
		w.logger.Debug("directory ingested", "path", path, "files", res.Files, "skipped", res.Skipped)
		return res.Root, nil
	}

	parser, err := w.parsers.ForFile(path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	b := ingest.NewBuilder(w.store, w.labels, w.reg, ingest.WithMaxRefs(w.cfg.Ingest.MaxRefs))
	id, err := parser.Parse(ctx, b, content, path)
	if err != nil {
		return 0, ingest.WrapParseError(err, path)
	}
	return id, nil
}

// rootName is the key a root is saved under in a snapshot.
func rootName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
