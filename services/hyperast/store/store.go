// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the hash-consed syntax node store.
//
// # Description
//
// Every node is identified by a NodeID. The store never holds two nodes
// with the same (type, label, children) tuple, so identical subtrees in
// any number of revisions share one handle. Insertion is two-phase:
//
//	p := s.Prepare(hash, eq)
//	if id, ok := p.Occupied(); ok {
//	    return id
//	}
//	return p.Insert(record)
//
// which lets a builder hash a node from its children's handles and only
// pay for the full record (Bloom summary, role) on a miss.
//
// # Thread Safety
//
// Store is safe for concurrent use. The dedup index is split into shards
// by hash, each with its own RWMutex: Prepare holds a shard read lock and
// Insert holds a single shard's write lock. Records live in fixed-size
// chunks published through an atomic directory and are never mutated once
// committed, so Resolve takes no lock.
package store

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/hyperdiff/services/hyperast/bloom"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// NodeID is a node handle. It is only meaningful for the store that
// returned it.
type NodeID uint32

// Role is the grammar field name a node appeared under in its first
// parent, e.g. "name" or "body".
type Role string

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1

	numShards = 64
)

// Record is the full content of a node handed to Insert.
type Record struct {
	Type     types.Type
	Label    label.ID
	Children []NodeID
	Metrics  Metrics

	// Bloom and Role are optional side-table entries.
	Bloom *bloom.Summary
	Role  Role
}

// Matches reports whether v holds the same (type, label, children) tuple.
func (r Record) Matches(v NodeView) bool {
	return v.Type() == r.Type && v.Label() == r.Label && slices.Equal(v.Children(), r.Children)
}

type node struct {
	typ      types.Type
	label    label.ID
	children []NodeID
	metrics  Metrics
}

type chunk [chunkSize]node

type shard struct {
	mu    sync.RWMutex
	index map[uint64][]NodeID
}

// Stats is a point-in-time view of store counters.
type Stats struct {
	Nodes  int
	Hits   uint64
	Misses uint64
	Blooms int
	Roles  int
}

// Store is the hash-consing node store.
type Store struct {
	types types.Table

	shards [numShards]shard

	allocMu sync.Mutex
	dir     atomic.Pointer[[]*chunk]
	count   atomic.Uint32

	sideMu sync.RWMutex
	blooms map[NodeID]*bloom.Summary
	roles  map[NodeID]Role

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an empty store using tbl for whitespace filtering.
func New(tbl types.Table) *Store {
	s := &Store{
		types:  tbl,
		blooms: make(map[NodeID]*bloom.Summary),
		roles:  make(map[NodeID]Role),
	}
	for i := range s.shards {
		s.shards[i].index = make(map[uint64][]NodeID)
	}
	empty := make([]*chunk, 0)
	s.dir.Store(&empty)
	return s
}

// Types returns the type table the store filters with.
func (s *Store) Types() types.Table { return s.types }

// Len returns the number of committed nodes.
func (s *Store) Len() int { return int(s.count.Load()) }

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.sideMu.RLock()
	nb, nr := len(s.blooms), len(s.roles)
	s.sideMu.RUnlock()
	return Stats{
		Nodes:  s.Len(),
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Blooms: nb,
		Roles:  nr,
	}
}

func (s *Store) shard(hash uint64) *shard {
	return &s.shards[hash%numShards]
}

// =============================================================================
// Two-phase insertion
// =============================================================================

// Pending is the outcome of Prepare: either an existing node or a slot
// for a new one.
type Pending struct {
	s    *Store
	hash uint64
	eq   func(NodeView) bool
	id   NodeID
	hit  bool
}

// Prepare looks up hash and tests every node stored under it with eq.
// Hash equality alone is never trusted.
func (s *Store) Prepare(hash uint64, eq func(NodeView) bool) Pending {
	sh := s.shard(hash)
	sh.mu.RLock()
	id, ok := s.find(sh, hash, eq)
	sh.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		dedupHitsTotal.Inc()
	}
	return Pending{s: s, hash: hash, eq: eq, id: id, hit: ok}
}

func (s *Store) find(sh *shard, hash uint64, eq func(NodeView) bool) (NodeID, bool) {
	for _, id := range sh.index[hash] {
		if eq(s.Resolve(id)) {
			return id, true
		}
	}
	return 0, false
}

// Occupied returns the existing node when Prepare found one.
func (p Pending) Occupied() (NodeID, bool) {
	return p.id, p.hit
}

// Insert commits rec and returns its handle.
//
// The shard is re-checked under its write lock, so a node inserted by
// another goroutine between Prepare and Insert is returned instead of
// duplicated. On an occupied Pending, Insert returns the existing node.
func (p Pending) Insert(rec Record) NodeID {
	id, _ := p.insert(rec)
	return id
}

func (p Pending) insert(rec Record) (NodeID, bool) {
	if p.hit {
		return p.id, false
	}
	s := p.s
	sh := s.shard(p.hash)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if id, ok := s.find(sh, p.hash, p.eq); ok {
		s.hits.Add(1)
		dedupHitsTotal.Inc()
		return id, false
	}
	id := s.alloc(rec)
	sh.index[p.hash] = append(sh.index[p.hash], id)
	s.misses.Add(1)
	dedupMissesTotal.Inc()
	return id, true
}

func (s *Store) alloc(rec Record) NodeID {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	n := s.count.Load()
	if n == math.MaxUint32 {
		panic(ErrStoreFull)
	}
	dir := *s.dir.Load()
	ci := int(n >> chunkBits)
	if ci == len(dir) {
		grown := make([]*chunk, len(dir)+1)
		copy(grown, dir)
		grown[ci] = new(chunk)
		s.dir.Store(&grown)
		dir = grown
	}

	var children []NodeID
	if len(rec.Children) > 0 {
		children = slices.Clone(rec.Children)
	}
	dir[ci][n&chunkMask] = node{
		typ:      rec.Type,
		label:    rec.Label,
		children: children,
		metrics:  rec.Metrics,
	}

	id := NodeID(n)
	if rec.Bloom != nil || rec.Role != "" {
		s.sideMu.Lock()
		if rec.Bloom != nil {
			s.blooms[id] = rec.Bloom
		}
		if rec.Role != "" {
			s.roles[id] = rec.Role
		}
		s.sideMu.Unlock()
	}

	s.count.Store(n + 1)
	nodesTotal.Inc()
	return id
}

// GetOrInsert runs both phases for rec. Zero metrics are computed from
// the children. It reports whether a new node was allocated.
func (s *Store) GetOrInsert(rec Record) (NodeID, bool) {
	if rec.Metrics.Size == 0 {
		rec.Metrics = s.ComputeMetrics(rec.Type, rec.Label, rec.Children, 0)
	}
	return s.Prepare(rec.Metrics.Hashes.Label, rec.Matches).insert(rec)
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve returns a read-only view of id. Unknown handles panic with
// ErrInvalidHandle.
func (s *Store) Resolve(id NodeID) NodeView {
	if uint32(id) >= s.count.Load() {
		panic(fmt.Errorf("%w: %d", ErrInvalidHandle, id))
	}
	dir := *s.dir.Load()
	return NodeView{s: s, id: id, n: &dir[id>>chunkBits][id&chunkMask]}
}

// Record returns a copy of the full record of id, side-table entries
// included.
func (s *Store) Record(id NodeID) Record {
	v := s.Resolve(id)
	rec := Record{
		Type:     v.Type(),
		Label:    v.Label(),
		Children: slices.Clone(v.Children()),
		Metrics:  v.Metrics(),
		Bloom:    v.Bloom(),
	}
	if r, ok := v.Role(); ok {
		rec.Role = r
	}
	return rec
}

// NodeView is a read-only handle on a committed node.
type NodeView struct {
	s  *Store
	id NodeID
	n  *node
}

func (v NodeView) ID() NodeID         { return v.id }
func (v NodeView) Type() types.Type   { return v.n.typ }
func (v NodeView) Label() label.ID    { return v.n.label }
func (v NodeView) HasLabel() bool     { return v.n.label != label.None }
func (v NodeView) ChildCount() int    { return len(v.n.children) }
func (v NodeView) Child(i int) NodeID { return v.n.children[i] }
func (v NodeView) Metrics() Metrics   { return v.n.metrics }
func (v NodeView) IsLeaf() bool       { return len(v.n.children) == 0 }

// Children returns the child handles. The slice is shared with the store
// and must not be modified.
func (v NodeView) Children() []NodeID { return v.n.children }

// Bloom returns the reference summary, or nil when none was stored.
func (v NodeView) Bloom() *bloom.Summary {
	v.s.sideMu.RLock()
	defer v.s.sideMu.RUnlock()
	return v.s.blooms[v.id]
}

// Role returns the grammar role recorded for the node, if any.
func (v NodeView) Role() (Role, bool) {
	v.s.sideMu.RLock()
	defer v.s.sideMu.RUnlock()
	r, ok := v.s.roles[v.id]
	return r, ok
}
