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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

const goSource = `package main

import "fmt"

func main() {
	x := 1
	if x > 0 {
		fmt.Println(x)
	}
}
`

func newSitterBuilder() *Builder {
	reg := types.NewRegistry()
	return NewBuilder(store.New(reg), label.New(), reg)
}

func TestTreeSitter_TextRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		lang *Language
		path string
		src  string
	}{
		{"go", Go(), "cmd/main.go", goSource},
		{"python", Python(), "app.py", "def f(a):\n    return a + 1\n\nprint(f(2))\n"},
		{"javascript", JavaScript(), "index.js", "  const x = 1;\nfunction g() { return x; }\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newSitterBuilder()
			p := NewTreeSitter(tt.lang)

			id, err := p.Parse(context.Background(), b, []byte(tt.src), tt.path)
			require.NoError(t, err)
			assert.Equal(t, 0, b.Depth())

			s := b.Store()
			v := s.Resolve(id)
			assert.True(t, b.Types().IsFile(v.Type()))
			assert.Equal(t, filepath.Base(tt.path), b.Labels().Lookup(v.Label()))
			assert.Equal(t, tt.src, store.Text(s, b.Labels(), id))
		})
	}
}

func TestTreeSitter_ReparseHits(t *testing.T) {
	b := newSitterBuilder()
	p := NewTreeSitter(Go())

	first, err := p.Parse(context.Background(), b, []byte(goSource), "main.go")
	require.NoError(t, err)
	size := b.Store().Len()

	second, err := p.Parse(context.Background(), b, []byte(goSource), "main.go")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, size, b.Store().Len())
}

func TestTreeSitter_Classification(t *testing.T) {
	b := newSitterBuilder()
	p := NewTreeSitter(Go())
	_, err := p.Parse(context.Background(), b, []byte(goSource), "main.go")
	require.NoError(t, err)

	reg := b.Types().(*types.Registry)
	tests := []struct {
		name  string
		check func(types.Type) bool
	}{
		{"if_statement", reg.IsStatement},
		{"function_declaration", reg.IsDeclaration},
		{"identifier", reg.IsIdentifier},
		{types.SpacesName, reg.IsSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ty, ok := reg.Lookup(tt.name)
			require.True(t, ok)
			assert.True(t, tt.check(ty))
		})
	}
}

func TestTreeSitter_FileBloom(t *testing.T) {
	b := newSitterBuilder()
	id, err := NewTreeSitter(Go()).Parse(context.Background(), b, []byte(goSource), "main.go")
	require.NoError(t, err)

	summary := b.Store().Resolve(id).Bloom()
	require.NotNil(t, summary)
	assert.True(t, summary.MayContain("Println"))
	assert.True(t, summary.MayContain("fmt"))
}

func TestTreeSitter_Rejections(t *testing.T) {
	b := newSitterBuilder()

	_, err := NewTreeSitter(Go(), WithMaxFileSize(8)).Parse(context.Background(), b, []byte(goSource), "big.go")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = NewTreeSitter(Go()).Parse(context.Background(), b, []byte{0xff, 0xfe, 0xfd}, "bad.go")
	assert.ErrorIs(t, err, ErrInvalidContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTreeSitter(Go()).Parse(ctx, b, []byte(goSource), "main.go")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, b.Depth())
}

func TestTreeSitter_SyntaxErrorsStillBuild(t *testing.T) {
	b := newSitterBuilder()
	src := "package main\n\nfunc ( {\n"
	id, err := NewTreeSitter(Go()).Parse(context.Background(), b, []byte(src), "broken.go")
	require.NoError(t, err)
	assert.Equal(t, src, store.Text(b.Store(), b.Labels(), id))
}

func TestParserRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"go", "javascript", "python"}, r.Languages())
	assert.Contains(t, r.Extensions(), ".pyi")

	p, err := r.ForFile("src/Main.GO")
	require.NoError(t, err)
	assert.Equal(t, "go", p.Language())

	_, err = r.ForFile("README.md")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, ok := r.GetByLanguage("python")
	assert.True(t, ok)
	r.Register(nil)
	assert.Len(t, r.Languages(), 3)
}

func TestDirectory(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("a.go", goSource)
	write("pkg/b.go", goSource)
	write("pkg/c.py", "x = 1\n")
	write("notes.txt", "not code")
	write(".git/config.go", goSource)
	write("bad.go", string([]byte{0xff, 0xfe}))

	reg := types.NewRegistry()
	s := store.New(reg)
	labels := label.New()

	res, err := Directory(context.Background(), DefaultRegistry(), s, labels, reg, root, DirectoryOptions{Parallelism: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Skipped)

	dir := s.Resolve(res.Root)
	assert.Equal(t, types.Directory, dir.Type())
	assert.Equal(t, filepath.Base(root), labels.Lookup(dir.Label()))
	require.Equal(t, 2, dir.ChildCount(), "a.go and pkg")

	a := s.Resolve(dir.Child(0))
	assert.Equal(t, "a.go", labels.Lookup(a.Label()))
	pkg := s.Resolve(dir.Child(1))
	assert.Equal(t, types.Directory, pkg.Type())
	require.Equal(t, 2, pkg.ChildCount())

	b := s.Resolve(pkg.Child(0))
	assert.Equal(t, a.Child(0), b.Child(0), "identical file contents share their subtree")
}

func TestDirectory_MissingRoot(t *testing.T) {
	reg := types.NewRegistry()
	_, err := Directory(context.Background(), DefaultRegistry(), store.New(reg), label.New(), reg,
		filepath.Join(t.TempDir(), "missing"), DirectoryOptions{})
	assert.Error(t, err)
}
