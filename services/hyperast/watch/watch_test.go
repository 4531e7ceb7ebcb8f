// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, handler Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	opts := DefaultOptions()
	opts.Debounce = 50 * time.Millisecond
	opts.MinInterval = 0
	w, err := New(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, handler) }()
	// Give Run time to register the directories.
	time.Sleep(100 * time.Millisecond)
	return cancel, done
}

func TestRun_BatchesChanges(t *testing.T) {
	dir := t.TempDir()
	batches := make(chan []Change, 8)
	cancel, done := startWatcher(t, dir, func(_ context.Context, cs []Change) error {
		batches <- cs
		return nil
	})

	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go.swp"), []byte("x"), 0o644))

	select {
	case cs := <-batches:
		var paths []string
		for _, c := range cs {
			paths = append(paths, c.Path)
		}
		assert.Contains(t, paths, path)
		assert.NotContains(t, paths, filepath.Join(dir, "a.go.swp"))
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	batches := make(chan []Change, 8)
	cancel, _ := startWatcher(t, dir, func(_ context.Context, cs []Change) error {
		batches <- cs
		return nil
	})
	defer cancel()

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	<-batches
	time.Sleep(50 * time.Millisecond)

	nested := filepath.Join(sub, "b.go")
	require.NoError(t, os.WriteFile(nested, []byte("package b\n"), 0o644))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cs := <-batches:
			for _, c := range cs {
				if c.Path == nested {
					return
				}
			}
		case <-deadline:
			t.Fatal("change in new directory not delivered")
		}
	}
}

func TestRun_HandlerErrorStops(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	cancel, done := startWatcher(t, dir, func(context.Context, []Change) error { return boom })
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.go"), []byte("package c\n"), 0o644))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on handler error")
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err := New(file, DefaultOptions())
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing"), DefaultOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIgnored(t *testing.T) {
	w := &Watcher{root: "/src", opts: DefaultOptions()}
	tests := []struct {
		path string
		want bool
	}{
		{"/src/main.go", false},
		{"/src/.git", true},
		{"/src/.git/HEAD", true},
		{"/src/web/node_modules/x/index.js", true},
		{"/src/main.go.swp", true},
		{"/src/notes.tmp", true},
		{"/src/gitignore.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.ignored(tt.path))
		})
	}
}

func TestDedupe_KeepsLastOp(t *testing.T) {
	in := []Change{
		{Path: "a", Op: OpCreate},
		{Path: "b", Op: OpWrite},
		{Path: "a", Op: OpRemove},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, Change{Path: "a", Op: OpRemove}, out[0])
	assert.Equal(t, "b", out[1].Path)
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "unknown", Op(9).String())
}
