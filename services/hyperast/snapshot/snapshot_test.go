// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hyperdiff/services/hyperast/bloom"
	"github.com/AleutianAI/hyperdiff/services/hyperast/ingest"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

type env struct {
	reg    *types.Registry
	labels *label.Interner
	store  *store.Store
}

func newEnv() env {
	reg := types.NewRegistry()
	reg.Mark("identifier", types.CatIdentifier)
	return env{reg: reg, labels: label.New(), store: store.New(reg)}
}

func (e env) builder() *ingest.Builder {
	return ingest.NewBuilder(e.store, e.labels, e.reg)
}

func sampleTree() ingest.Raw {
	return ingest.Raw{Kind: types.FileName, Label: "main.go", Children: []ingest.Raw{
		ingest.Node("function",
			ingest.Raw{Kind: "identifier", Label: "main", Role: "name"},
			ingest.Leaf(types.SpacesName, "\n\t"),
			ingest.Node("body",
				ingest.Leaf("identifier", "fmt"),
				ingest.Leaf(types.SpacesName, "\n"),
				ingest.Leaf("identifier", "Println"),
			),
		),
	}}
}

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	src := newEnv()
	root := src.builder().InsertRaw(sampleTree())
	man, err := Save(ctx, db, src.store, src.labels, src.reg, map[string]store.NodeID{"main": root})
	require.NoError(t, err)
	assert.Equal(t, Format, man.Format)
	assert.Equal(t, uint32(src.store.Len()), man.Nodes)

	// Pre-populate the target so type, label and node ids all shift.
	dst := newEnv()
	dst.reg.Intern("unrelated")
	dst.labels.Intern("zzz")
	dst.builder().InsertRaw(ingest.Node("other", ingest.Leaf("identifier", "q")))
	before := dst.store.Len()

	got, err := Load(ctx, db, dst.store, dst.labels, dst.reg)
	require.NoError(t, err)
	require.Len(t, got.Remap, src.store.Len())
	assert.Equal(t, before+src.store.Len(), dst.store.Len())

	live, ok := got.Roots["main"]
	require.True(t, ok)
	assert.Equal(t, got.Remap[root], live)
	assert.Equal(t, store.Text(src.store, src.labels, root), store.Text(dst.store, dst.labels, live))

	sm, dm := src.store.Resolve(root).Metrics(), dst.store.Resolve(live).Metrics()
	assert.Equal(t, sm.Size, dm.Size)
	assert.Equal(t, sm.SizeNoSpaces, dm.SizeNoSpaces)
	assert.Equal(t, sm.Height, dm.Height)
	assert.Equal(t, sm.LineCount, dm.LineCount)

	fn := dst.store.Resolve(dst.store.Resolve(live).Child(0))
	require.NotNil(t, fn.Bloom())
	assert.Equal(t, bloom.Filter, fn.Bloom().Kind())
	for _, ref := range []string{"main", "fmt", "Println"} {
		assert.True(t, fn.Bloom().MayContain(ref), ref)
	}
	role, ok := dst.store.Resolve(fn.Child(0)).Role()
	require.True(t, ok)
	assert.Equal(t, store.Role("name"), role)

	// Ingesting the same source again hits the loaded nodes.
	n := dst.store.Len()
	again := dst.builder().InsertRaw(sampleTree())
	assert.Equal(t, live, again)
	assert.Equal(t, n, dst.store.Len())
}

func TestLoad_DedupesAgainstExistingNodes(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	e := newEnv()
	root := e.builder().InsertRaw(sampleTree())
	_, err := Save(ctx, db, e.store, e.labels, e.reg, nil)
	require.NoError(t, err)

	n := e.store.Len()
	got, err := Load(ctx, db, e.store, e.labels, e.reg)
	require.NoError(t, err)
	assert.Equal(t, n, e.store.Len())
	assert.Equal(t, root, got.Remap[root])
	assert.Empty(t, got.Roots)
}

func TestLoad_NoSnapshot(t *testing.T) {
	e := newEnv()
	_, err := Load(context.Background(), openMem(t), e.store, e.labels, e.reg)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = ReadManifest(context.Background(), openMem(t))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoad_FormatMismatch(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)
	data, err := marshal(Manifest{Format: "hyperdiff/0"})
	require.NoError(t, err)
	require.NoError(t, db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(keyManifest), data)
	}))

	e := newEnv()
	_, err = Load(ctx, db, e.store, e.labels, e.reg)
	assert.ErrorIs(t, err, ErrFormatMismatch)
}

func TestLoad_MissingNodeIsCorrupt(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)
	src := newEnv()
	src.builder().InsertRaw(sampleTree())
	_, err := Save(ctx, db, src.store, src.labels, src.reg, nil)
	require.NoError(t, err)

	require.NoError(t, db.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(idKey(prefixNode, 0))
	}))

	dst := newEnv()
	_, err = Load(ctx, db, dst.store, dst.labels, dst.reg)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSave_ReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	big := newEnv()
	bigRoot := big.builder().InsertRaw(sampleTree())
	_, err := Save(ctx, db, big.store, big.labels, big.reg, map[string]store.NodeID{"old": bigRoot})
	require.NoError(t, err)

	small := newEnv()
	smallRoot := small.builder().InsertRaw(ingest.Node("list", ingest.Leaf("number", "1")))
	man, err := Save(ctx, db, small.store, small.labels, small.reg, map[string]store.NodeID{"new": smallRoot})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), man.Nodes)

	dst := newEnv()
	got, err := Load(ctx, db, dst.store, dst.labels, dst.reg)
	require.NoError(t, err)
	assert.Len(t, got.Remap, 2)
	assert.Equal(t, 2, dst.store.Len())
	assert.NotContains(t, got.Roots, "old")
	assert.Contains(t, got.Roots, "new")
}

func TestSave_RejectsUnknownRoot(t *testing.T) {
	e := newEnv()
	e.builder().InsertRaw(sampleTree())
	_, err := Save(context.Background(), openMem(t), e.store, e.labels, e.reg,
		map[string]store.NodeID{"bad": store.NodeID(e.store.Len())})
	assert.Error(t, err)
}

func TestSave_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEnv()
	e.builder().InsertRaw(sampleTree())
	db := openMem(t)

	_, err := Save(ctx, db, e.store, e.labels, e.reg, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = ReadManifest(context.Background(), db)
	assert.ErrorIs(t, err, ErrNoSnapshot, "an interrupted save leaves no manifest")
}

func TestOpen_OnDiskPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	assert.False(t, db.InMemory())
	src := newEnv()
	root := src.builder().InsertRaw(sampleTree())
	_, err = Save(ctx, db, src.store, src.labels, src.reg, map[string]store.NodeID{"main": root})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()
	dst := newEnv()
	got, err := Load(ctx, db, dst.store, dst.labels, dst.reg)
	require.NoError(t, err)
	assert.Equal(t, store.Text(src.store, src.labels, root), store.Text(dst.store, dst.labels, got.Roots["main"]))
}

func TestOpen_PathRequired(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}
