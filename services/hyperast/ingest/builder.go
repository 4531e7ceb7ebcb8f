// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns parsed source into hash-consed nodes.
//
// A Builder is driven bottom-up: Open pushes an accumulator, Leaf and
// Attach add children to the innermost one, Close hashes the finished node
// and inserts it through the store's two-phase protocol. Identifier
// references collected along the way feed the node's Bloom summary, which
// is only built when the node turns out to be new.
//
// The tree-sitter adapter, the parser registry and directory ingestion are
// layered on top of the Builder.
package ingest

import (
	"strings"

	"github.com/AleutianAI/hyperdiff/services/hyperast/bloom"
	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// Raw is a literal syntax tree, used by tests and by callers that bring
// their own parser.
type Raw struct {
	Kind     string
	Label    string
	Role     string
	Children []Raw
}

// Leaf returns a labeled Raw leaf.
func Leaf(kind, text string) Raw {
	return Raw{Kind: kind, Label: text}
}

// Node returns an unlabeled Raw node.
func Node(kind string, children ...Raw) Raw {
	return Raw{Kind: kind, Children: children}
}

type accumulator struct {
	typ      types.Type
	role     store.Role
	children []store.NodeID
	refs     map[string]struct{}
	overflow bool
}

func (a *accumulator) addRef(ref string, maxRefs int) {
	if a.overflow {
		return
	}
	if a.refs == nil {
		a.refs = make(map[string]struct{})
	}
	a.refs[ref] = struct{}{}
	if len(a.refs) > maxRefs {
		a.overflow = true
		a.refs = nil
	}
}

func (a *accumulator) merge(child *accumulator, maxRefs int) {
	if child.overflow {
		a.overflow = true
		a.refs = nil
		return
	}
	for r := range child.refs {
		a.addRef(r, maxRefs)
	}
}

// Builder inserts one tree at a time into a shared store.
//
// Thread Safety:
//
//	A Builder is not safe for concurrent use. Use one Builder per
//	goroutine; the store, interner and type registry behind them are
//	shared safely.
type Builder struct {
	store   *store.Store
	labels  *label.Interner
	types   types.Resolver
	maxRefs int
	stack   []*accumulator
	visited int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMaxRefs sets the reference count above which Bloom summaries are
// TooLarge.
func WithMaxRefs(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxRefs = n
		}
	}
}

// NewBuilder creates a Builder over a shared store, interner and type
// resolver.
func NewBuilder(s *store.Store, labels *label.Interner, tys types.Resolver, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:   s,
		labels:  labels,
		types:   tys,
		maxRefs: bloom.DefaultMaxRefs,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the store the builder inserts into.
func (b *Builder) Store() *store.Store { return b.store }

// Labels returns the label interner.
func (b *Builder) Labels() *label.Interner { return b.labels }

// Types returns the type resolver.
func (b *Builder) Types() types.Resolver { return b.types }

// Depth returns the number of open nodes.
func (b *Builder) Depth() int { return len(b.stack) }

// Visited returns the number of nodes built or attached since the builder
// was created, hits included.
func (b *Builder) Visited() int { return b.visited }

func (b *Builder) top() *accumulator {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

// Open starts a new internal node of the given kind.
func (b *Builder) Open(kind string, role store.Role) {
	b.stack = append(b.stack, &accumulator{
		typ:  b.types.Intern(kind),
		role: role,
	})
}

// Leaf inserts a labeled leaf and appends it to the open node, if any.
func (b *Builder) Leaf(kind string, role store.Role, text string) store.NodeID {
	t := b.types.Intern(kind)
	l := b.labels.Intern(text)
	rec := store.Record{
		Type:    t,
		Label:   l,
		Role:    role,
		Metrics: b.store.ComputeMetrics(t, l, nil, uint32(strings.Count(text, "\n"))),
	}
	id := b.store.Prepare(rec.Metrics.Hashes.Label, rec.Matches).Insert(rec)
	b.visited++

	if parent := b.top(); parent != nil {
		parent.children = append(parent.children, id)
		if b.types.IsIdentifier(t) {
			parent.addRef(text, b.maxRefs)
		}
	}
	return id
}

// Close finishes the innermost open node without a label.
func (b *Builder) Close() store.NodeID {
	return b.close(label.None, 0)
}

// CloseLabeled finishes the innermost open node with a label, e.g. the
// file name of a file node.
func (b *Builder) CloseLabeled(text string) store.NodeID {
	return b.close(b.labels.Intern(text), uint32(strings.Count(text, "\n")))
}

func (b *Builder) close(l label.ID, lines uint32) store.NodeID {
	acc := b.top()
	if acc == nil {
		panic("ingest: Close without matching Open")
	}
	b.stack = b.stack[:len(b.stack)-1]

	rec := store.Record{
		Type:     acc.typ,
		Label:    l,
		Children: acc.children,
		Role:     acc.role,
		Metrics:  b.store.ComputeMetrics(acc.typ, l, acc.children, lines),
	}
	p := b.store.Prepare(rec.Metrics.Hashes.Label, rec.Matches)
	id, hit := p.Occupied()
	if !hit {
		switch {
		case acc.overflow:
			rec.Bloom = bloom.New(b.maxRefs+1, b.maxRefs)
		case len(acc.refs) > 0:
			refs := make([]string, 0, len(acc.refs))
			for r := range acc.refs {
				refs = append(refs, r)
			}
			rec.Bloom = bloom.Build(refs, b.maxRefs)
		}
		id = p.Insert(rec)
	}
	b.visited++

	if parent := b.top(); parent != nil {
		parent.children = append(parent.children, id)
		parent.merge(acc, b.maxRefs)
	}
	return id
}

// Attach appends an existing node to the open node. Its references are
// folded into the parent summary conservatively: a child that carries a
// real filter forces the parent to TooLarge.
func (b *Builder) Attach(id store.NodeID) {
	parent := b.top()
	if parent == nil {
		panic("ingest: Attach without open node")
	}
	v := b.store.Resolve(id)
	parent.children = append(parent.children, id)
	b.visited++

	if v.IsLeaf() && v.HasLabel() && b.types.IsIdentifier(v.Type()) {
		parent.addRef(b.labels.Lookup(v.Label()), b.maxRefs)
		return
	}
	if s := v.Bloom(); s != nil && s.Kind() != bloom.Empty {
		parent.overflow = true
		parent.refs = nil
	}
}

// InsertRaw inserts a literal tree and returns its root.
func (b *Builder) InsertRaw(r Raw) store.NodeID {
	if len(r.Children) == 0 && r.Label != "" {
		return b.Leaf(r.Kind, store.Role(r.Role), r.Label)
	}
	b.Open(r.Kind, store.Role(r.Role))
	for _, c := range r.Children {
		b.InsertRaw(c)
	}
	if r.Label != "" {
		return b.CloseLabeled(r.Label)
	}
	return b.Close()
}
