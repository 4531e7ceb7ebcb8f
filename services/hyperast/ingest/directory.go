// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// DirectoryOptions configures Directory.
type DirectoryOptions struct {
	// Parallelism bounds concurrent file parses. Zero uses GOMAXPROCS.
	Parallelism int

	// MaxRefs is passed to every Builder. Zero keeps the default.
	MaxRefs int

	// Logger receives skip notices. Nil uses slog.Default().
	Logger *slog.Logger
}

// DirectoryResult summarizes a directory ingestion.
type DirectoryResult struct {
	Root    store.NodeID
	Files   int
	Skipped int
}

type dirEntry struct {
	name  string
	path  string
	isDir bool
	file  int
}

// Directory ingests every supported file under root into s and returns a
// "directory" node whose children are the "file" and "directory" nodes
// of its entries in lexical order.
//
// Description:
//
//	Files are parsed concurrently, one Builder per goroutine, bounded by
//	Parallelism. Hidden entries (leading dot) are skipped, as are files
//	without a parser and files rejected as too large or not UTF-8. Any
//	other parse error aborts the ingestion.
//
// Outputs:
//
//	DirectoryResult - The root node and file counts.
//	error - Walk errors, ctx errors, or the first fatal parse error.
func Directory(ctx context.Context, parsers *ParserRegistry, s *store.Store, labels *label.Interner, tys types.Resolver, root string, opts DirectoryOptions) (DirectoryResult, error) {
	ctx, span := startDirectorySpan(ctx, root)
	defer span.End()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	tree := make(map[string][]dirEntry)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		parent := filepath.Dir(path)
		if d.IsDir() {
			tree[parent] = append(tree[parent], dirEntry{name: d.Name(), path: path, isDir: true})
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		tree[parent] = append(tree[parent], dirEntry{name: d.Name(), path: path, file: len(files)})
		files = append(files, path)
		return nil
	})
	if err != nil {
		return DirectoryResult{}, fmt.Errorf("walk %s: %w", root, err)
	}

	ids := make([]store.NodeID, len(files))
	ok := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			parser, err := parsers.ForFile(path)
			if err != nil {
				logger.Debug("skipping file", slog.String("file", path), slog.String("reason", "unsupported"))
				recordSkipped(gctx, "unsupported")
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			b := NewBuilder(s, labels, tys, WithMaxRefs(opts.MaxRefs))
			id, err := parser.Parse(gctx, b, content, path)
			if err != nil {
				if skippable(err) {
					logger.Warn("skipping file", slog.String("file", path), slog.String("error", err.Error()))
					recordSkipped(gctx, "rejected")
					return nil
				}
				return WrapParseError(err, path)
			}
			ids[i], ok[i] = id, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return DirectoryResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DirectoryResult{}, err
	}

	res := DirectoryResult{}
	for _, parsed := range ok {
		if parsed {
			res.Files++
		} else {
			res.Skipped++
		}
	}

	b := NewBuilder(s, labels, tys, WithMaxRefs(opts.MaxRefs))
	var assemble func(path string) store.NodeID
	assemble = func(path string) store.NodeID {
		b.Open(types.DirectoryName, "")
		for _, e := range tree[path] {
			switch {
			case e.isDir:
				assemble(e.path)
			case ok[e.file]:
				b.Attach(ids[e.file])
			}
		}
		return b.CloseLabeled(filepath.Base(path))
	}
	res.Root = assemble(root)

	span.SetAttributes(
		attribute.Int("ingest.files", res.Files),
		attribute.Int("ingest.skipped", res.Skipped),
	)
	return res, nil
}
