// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch turns file system events under a directory into batches
// of changes, one batch per new revision of the tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Op is the kind of a file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one file event. Within a batch each path appears once, with
// its latest operation.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler receives one debounced batch. A returned error stops Run.
type Handler func(ctx context.Context, changes []Change) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period that closes a batch.
	Debounce time.Duration

	// MinInterval is the least time between two handler calls. Batches
	// arriving sooner wait.
	MinInterval time.Duration

	// Ignore holds base names or glob patterns whose events are dropped.
	// Matching directories are not watched.
	Ignore []string

	// BufferSize bounds the events queued before the batch closes; the
	// excess is dropped.
	BufferSize int

	Logger *slog.Logger
}

// DefaultOptions returns the options used by the watch command.
func DefaultOptions() Options {
	return Options{
		Debounce:    200 * time.Millisecond,
		MinInterval: time.Second,
		Ignore:      []string{".git", "node_modules", ".idea", "*.swp", "*.tmp", "*~", "__pycache__"},
		BufferSize:  1000,
	}
}

// Watcher watches a directory tree.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	closeOnce sync.Once
}

// New creates a Watcher for root. Nothing is watched until Run.
func New(root string, opts Options) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Watcher{
		root:    root,
		fsw:     fsw,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// Close releases the underlying watcher. Run returns soon after.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// Run watches until ctx is done or handler fails.
//
// Description:
//
//	Events are collected into a batch that closes after Debounce without
//	new events. Batches are then handed to handler no more often than
//	MinInterval; events arriving while handler runs form the next batch.
//	Directories created under the root are watched as they appear.
//
// Outputs:
//
//	error - nil when ctx ends or Close is called, otherwise the handler
//	        or watcher error.
//
// Thread Safety: Run must not be called concurrently on one Watcher.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	var (
		batch  []Change
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if len(batch) >= w.opts.BufferSize {
				continue
			}
			batch = append(batch, Change{Path: ev.Name, Op: convertOp(ev.Op), Time: time.Now()})
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			changes := dedupe(batch)
			batch = nil
			if err := w.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := handler(ctx, changes); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.Ignore {
		if base == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if !strings.ContainsAny(pattern, "*?[") && strings.Contains(path, string(filepath.Separator)+pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

// dedupe keeps the last change per path, in order of first appearance.
func dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := seen[c.Path]; ok {
			out[i] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}
