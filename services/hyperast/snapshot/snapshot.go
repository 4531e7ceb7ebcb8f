// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists a node store, with its type registry and label
// interner, in a badger database so ingestion can be skipped on restart.
//
// Handles are not stable across processes: Load re-interns every type
// and label and re-inserts every node, returning the mapping from saved
// handles to live ones.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/hyperdiff/services/hyperast/bloom"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// ctxCheckEvery is how many records are written or read between context
// checks.
const ctxCheckEvery = 4096

// Loaded is the result of Load.
type Loaded struct {
	Manifest Manifest

	// Remap maps a saved handle, used as index, to the live handle.
	Remap []store.NodeID

	// Roots holds the named roots saved with the snapshot, remapped.
	Roots map[string]store.NodeID
}

// Save writes every node of s, with the types and labels they use, to db.
//
// Description:
//
//	Any previous snapshot is dropped first. The manifest is written last,
//	so an interrupted Save leaves a database that Load reports as
//	ErrNoSnapshot. Nodes inserted concurrently with Save may be missed;
//	those present when Save starts are all written.
//
// Inputs:
//
//	ctx - Checked periodically while writing.
//	roots - Optional named handles to restore with Load.
//
// Outputs:
//
//	Manifest - What was written.
//	error - A wrapped badger or context error.
func Save(ctx context.Context, db *DB, s *store.Store, labels *label.Interner, reg *types.Registry, roots map[string]store.NodeID) (Manifest, error) {
	n := s.Len()
	for name, id := range roots {
		if int(id) >= n {
			return Manifest{}, fmt.Errorf("snapshot: root %q: handle %d out of range", name, id)
		}
	}

	if err := db.DB.DropPrefix([]byte(keyManifest), []byte(prefixType), []byte(prefixLabel), []byte(prefixNode), []byte(prefixRoot)); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: drop previous: %w", err)
	}

	// Labels and types only grow, so reading them after the node count
	// covers every node below n.
	names := reg.Names()
	labelCount := labels.Len()

	wb := db.DB.NewWriteBatch()
	defer wb.Cancel()

	for i, name := range names {
		if err := wb.Set(idKey(prefixType, uint32(i)), []byte(name)); err != nil {
			return Manifest{}, fmt.Errorf("snapshot: write type %d: %w", i, err)
		}
	}
	for i := 1; i <= labelCount; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Manifest{}, fmt.Errorf("snapshot: save: %w", err)
			}
		}
		if err := wb.Set(idKey(prefixLabel, uint32(i)), []byte(labels.Lookup(label.ID(i)))); err != nil {
			return Manifest{}, fmt.Errorf("snapshot: write label %d: %w", i, err)
		}
	}
	for i := 0; i < n; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Manifest{}, fmt.Errorf("snapshot: save: %w", err)
			}
		}
		data, err := marshal(recordOf(s, store.NodeID(i)))
		if err != nil {
			return Manifest{}, fmt.Errorf("snapshot: marshal node %d: %w", i, err)
		}
		if err := wb.Set(idKey(prefixNode, uint32(i)), data); err != nil {
			return Manifest{}, fmt.Errorf("snapshot: write node %d: %w", i, err)
		}
	}
	for name, id := range roots {
		v := idKey("", uint32(id))
		if err := wb.Set([]byte(prefixRoot+name), v); err != nil {
			return Manifest{}, fmt.Errorf("snapshot: write root %q: %w", name, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: flush: %w", err)
	}

	man := Manifest{
		Format:  Format,
		Types:   uint32(len(names)),
		Labels:  uint32(labelCount),
		Nodes:   uint32(n),
		Roots:   uint32(len(roots)),
		Created: time.Now().Unix(),
	}
	data, err := marshal(man)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	err = db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(keyManifest), data)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: write manifest: %w", err)
	}
	return man, nil
}

func recordOf(s *store.Store, id store.NodeID) nodeRecord {
	v := s.Resolve(id)
	lines := v.Metrics().LineCount
	var children []uint32
	if kids := v.Children(); len(kids) > 0 {
		children = make([]uint32, len(kids))
		for i, c := range kids {
			children[i] = uint32(c)
			lines -= s.Resolve(c).Metrics().LineCount
		}
	}
	r := nodeRecord{
		Type:     uint16(v.Type()),
		Label:    uint32(v.Label()),
		Children: children,
		Lines:    lines,
	}
	if b := v.Bloom(); b != nil {
		r.HasBloom = true
		r.BloomKind = uint8(b.Kind())
		r.BloomK = b.K()
		r.BloomWords = b.Words()
	}
	if role, ok := v.Role(); ok {
		r.Role = string(role)
	}
	return r
}

// ReadManifest returns the manifest of the snapshot in db.
func ReadManifest(ctx context.Context, db *DB) (Manifest, error) {
	var man Manifest
	err := db.view(ctx, func(txn *badger.Txn) error {
		var err error
		man, err = readManifest(txn)
		return err
	})
	return man, err
}

func readManifest(txn *badger.Txn) (Manifest, error) {
	item, err := txn.Get([]byte(keyManifest))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Manifest{}, ErrNoSnapshot
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read manifest: %w", err)
	}
	var man Manifest
	err = item.Value(func(val []byte) error {
		man, err = unmarshalManifest(val)
		return err
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if man.Format != Format {
		return Manifest{}, fmt.Errorf("%w: found %q, want %q", ErrFormatMismatch, man.Format, Format)
	}
	return man, nil
}

// Load inserts the snapshot in db into s, interning its types into reg
// and its labels into labels.
//
// Description:
//
//	The target store may already hold nodes; structurally equal nodes
//	dedupe against them. Metrics are recomputed from the rebuilt
//	children, so they match what ingestion would have produced.
//
// Outputs:
//
//	Loaded - The handle remapping and named roots.
//	error - ErrNoSnapshot, ErrFormatMismatch, ErrCorrupt, or a wrapped
//	        badger or context error.
//
// Thread Safety: s, labels and reg may be used concurrently during Load.
func Load(ctx context.Context, db *DB, s *store.Store, labels *label.Interner, reg *types.Registry) (Loaded, error) {
	var out Loaded
	err := db.view(ctx, func(txn *badger.Txn) error {
		man, err := readManifest(txn)
		if err != nil {
			return err
		}
		out.Manifest = man

		typeMap := make([]types.Type, 0, man.Types)
		err = scan(txn, prefixType, func(id uint32, val []byte) error {
			if id != uint32(len(typeMap)) {
				return fmt.Errorf("%w: type %d out of sequence", ErrCorrupt, id)
			}
			typeMap = append(typeMap, reg.Intern(string(val)))
			return nil
		})
		if err != nil {
			return err
		}

		labelMap := make([]label.ID, 1, man.Labels+1)
		err = scan(txn, prefixLabel, func(id uint32, val []byte) error {
			if id != uint32(len(labelMap)) {
				return fmt.Errorf("%w: label %d out of sequence", ErrCorrupt, id)
			}
			labelMap = append(labelMap, labels.Intern(string(val)))
			return nil
		})
		if err != nil {
			return err
		}
		if len(typeMap) != int(man.Types) || len(labelMap)-1 != int(man.Labels) {
			return fmt.Errorf("%w: manifest counts %d types, %d labels; found %d, %d",
				ErrCorrupt, man.Types, man.Labels, len(typeMap), len(labelMap)-1)
		}

		out.Remap = make([]store.NodeID, 0, man.Nodes)
		err = scan(txn, prefixNode, func(id uint32, val []byte) error {
			if id != uint32(len(out.Remap)) {
				return fmt.Errorf("%w: node %d out of sequence", ErrCorrupt, id)
			}
			if id%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("snapshot: load: %w", err)
				}
			}
			nr, err := unmarshalNode(val)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			rec, err := rebuild(s, nr, typeMap, labelMap, out.Remap)
			if err != nil {
				return fmt.Errorf("node %d: %w", id, err)
			}
			live, _ := s.GetOrInsert(rec)
			out.Remap = append(out.Remap, live)
			return nil
		})
		if err != nil {
			return err
		}
		if len(out.Remap) != int(man.Nodes) {
			return fmt.Errorf("%w: manifest counts %d nodes, found %d", ErrCorrupt, man.Nodes, len(out.Remap))
		}

		out.Roots = make(map[string]store.NodeID, man.Roots)
		return scanRoots(txn, func(name string, id uint32) error {
			if int(id) >= len(out.Remap) {
				return fmt.Errorf("%w: root %q handle %d out of range", ErrCorrupt, name, id)
			}
			out.Roots[name] = out.Remap[id]
			return nil
		})
	})
	if err != nil {
		return Loaded{}, err
	}
	return out, nil
}

// rebuild turns a saved record into a store record. Children must have
// been loaded already, which holds because handles are allocated after
// their children.
func rebuild(s *store.Store, nr nodeRecord, typeMap []types.Type, labelMap []label.ID, remap []store.NodeID) (store.Record, error) {
	if int(nr.Type) >= len(typeMap) {
		return store.Record{}, fmt.Errorf("%w: unknown type %d", ErrCorrupt, nr.Type)
	}
	if int(nr.Label) >= len(labelMap) {
		return store.Record{}, fmt.Errorf("%w: unknown label %d", ErrCorrupt, nr.Label)
	}
	rec := store.Record{
		Type:  typeMap[nr.Type],
		Label: labelMap[nr.Label],
		Role:  store.Role(nr.Role),
	}
	if len(nr.Children) > 0 {
		rec.Children = make([]store.NodeID, len(nr.Children))
		for i, c := range nr.Children {
			if int(c) >= len(remap) {
				return store.Record{}, fmt.Errorf("%w: child %d not loaded", ErrCorrupt, c)
			}
			rec.Children[i] = remap[c]
		}
	}
	if nr.HasBloom {
		b, err := bloom.FromWords(bloom.Kind(nr.BloomKind), nr.BloomK, nr.BloomWords)
		if err != nil {
			return store.Record{}, fmt.Errorf("%w: bloom: %v", ErrCorrupt, err)
		}
		rec.Bloom = b
	}
	rec.Metrics = s.ComputeMetrics(rec.Type, rec.Label, rec.Children, nr.Lines)
	return rec, nil
}

func scan(txn *badger.Txn, prefix string, fn func(id uint32, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		id, ok := keyID(prefix, item.Key())
		if !ok {
			return fmt.Errorf("%w: malformed key %q", ErrCorrupt, item.Key())
		}
		err := item.Value(func(val []byte) error {
			return fn(id, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func scanRoots(txn *badger.Txn, fn func(name string, id uint32) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixRoot)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		name := string(item.Key()[len(prefixRoot):])
		err := item.Value(func(val []byte) error {
			id, ok := keyID("", val)
			if !ok {
				return fmt.Errorf("%w: root %q value", ErrCorrupt, name)
			}
			return fn(name, id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
