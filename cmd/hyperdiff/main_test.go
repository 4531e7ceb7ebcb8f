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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const srcGo = `package demo

func add(a, b int) int {
	return a + b
}

func greet(name string) string {
	return "hello " + name
}
`

const dstGo = `package demo

func greet(name string) string {
	return "hello, " + name
}

func add(a, b int) int {
	return a + b
}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSources(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(a, []byte(srcGo), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(dstGo), 0o644))
	return a, b
}

func TestDiff_JSON(t *testing.T) {
	a, b := writeSources(t)
	out, err := run(t, "diff", a, b, "--json", "--pairs")
	require.NoError(t, err)

	var res resultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.ID)
	assert.Greater(t, res.Mapped, 0)
	assert.Len(t, res.Pairs, res.Mapped)
	assert.Greater(t, res.RootSimilarity, 0.5)

	moved := false
	for _, p := range res.Pairs {
		assert.Equal(t, p.Src.Type, p.Dst.Type)
		if p.Src.Label == "add" && p.Dst.Label == "add" {
			moved = true
		}
	}
	assert.True(t, moved, "the moved function keeps its identifier mapped")
}

func TestDiff_FlagsOverrideConfig(t *testing.T) {
	a, b := writeSources(t)
	cfgPath := filepath.Join(t.TempDir(), "hyperdiff.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("diff: {variant: simple}\n"), 0o644))

	for _, args := range [][]string{
		{"diff", a, b, "-c", cfgPath},
		{"diff", a, b, "-c", cfgPath, "--variant", "hybrid", "--arena", "lazy"},
		{"diff", a, b, "--algorithm", "similarity", "--no-spaces"},
	} {
		out, err := run(t, args...)
		require.NoError(t, err, args)
		assert.Contains(t, out, "mapped:")
	}

	_, err := run(t, "diff", a, b, "--variant", "fastest")
	assert.Error(t, err)
	_, err = run(t, "diff", a, b, "--min-height", "0")
	assert.Error(t, err)
}

func TestIngest_SnapshotWarmStart(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.go"), []byte(srcGo), 0o644))
	snap := filepath.Join(t.TempDir(), "snap")

	out, err := run(t, "ingest", src, "--snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "store:")
	assert.NotContains(t, out, "(+0)")

	out, err = run(t, "ingest", src, "--snapshot", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "(+0)", "every node comes from the snapshot")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "hyperdiff.yaml")
	out, err := run(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "diff", "-c", path, "missing.go", "other.go")
	assert.Error(t, err)
}

func TestCloseInto(t *testing.T) {
	flush := errors.New("flush failed")
	earlier := errors.New("ingest failed")
	tests := []struct {
		name  string
		prior error
		close error
		want  error
	}{
		{"close error surfaces", nil, flush, flush},
		{"earlier error wins", earlier, flush, earlier},
		{"clean close keeps result", earlier, nil, earlier},
		{"both clean", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func() (err error) {
				defer closeInto(&err, func() error { return tt.close })
				return tt.prior
			}
			assert.Equal(t, tt.want, run())
		})
	}
}

func TestWorkspaceClose_WithoutSnapshot(t *testing.T) {
	w := &workspace{}
	assert.NoError(t, w.close())
}
