// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"strings"

	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// View is the tree shape the arenas and matchers traverse.
//
// FullView exposes every stored child. NoSpaceView hides whitespace and
// hidden children and reports the matching NoSpaces metrics.
type View interface {
	Store() *Store
	Children(id NodeID) []NodeID
	Size(id NodeID) uint32
	Height(id NodeID) uint32
	Hashes(id NodeID) Hashes
}

// LabelSource turns label ids back into strings.
type LabelSource interface {
	Lookup(id label.ID) string
}

// FullView is the unfiltered view of a store.
type FullView struct {
	S *Store
}

func (v FullView) Store() *Store                { return v.S }
func (v FullView) Children(id NodeID) []NodeID  { return v.S.Resolve(id).Children() }
func (v FullView) Size(id NodeID) uint32        { return v.S.Resolve(id).Metrics().Size }
func (v FullView) Height(id NodeID) uint32      { return v.S.Resolve(id).Metrics().Height }
func (v FullView) Hashes(id NodeID) Hashes      { return v.S.Resolve(id).Metrics().Hashes }

// NoSpaceView filters children through Keep. Children allocates a fresh
// slice when anything is filtered; stored records are never touched.
type NoSpaceView struct {
	S    *Store
	Keep func(types.Type) bool
}

// NewNoSpaceView hides the children the store's type table reports as
// whitespace or hidden.
func NewNoSpaceView(s *Store) NoSpaceView {
	tbl := s.Types()
	return NoSpaceView{
		S:    s,
		Keep: func(t types.Type) bool { return !types.Filtered(tbl, t) },
	}
}

func (v NoSpaceView) Store() *Store { return v.S }

func (v NoSpaceView) Children(id NodeID) []NodeID {
	all := v.S.Resolve(id).Children()
	for i, c := range all {
		if v.Keep(v.S.Resolve(c).Type()) {
			continue
		}
		out := make([]NodeID, i, len(all)-1)
		copy(out, all[:i])
		for _, c := range all[i+1:] {
			if v.Keep(v.S.Resolve(c).Type()) {
				out = append(out, c)
			}
		}
		return out
	}
	return all
}

func (v NoSpaceView) Size(id NodeID) uint32   { return v.S.Resolve(id).Metrics().SizeNoSpaces }
func (v NoSpaceView) Height(id NodeID) uint32 { return v.S.Resolve(id).Metrics().HeightNoSpaces }
func (v NoSpaceView) Hashes(id NodeID) Hashes { return v.S.Resolve(id).Metrics().HashesNoSpaces }

// Text reconstructs the source text of id by concatenating the labels of
// all leaves, whitespace included, in order.
func Text(s *Store, labels LabelSource, id NodeID) string {
	var sb strings.Builder
	stack := []NodeID{id}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		v := s.Resolve(top)
		if v.IsLeaf() {
			if v.HasLabel() {
				sb.WriteString(labels.Lookup(v.Label()))
			}
			continue
		}
		kids := v.Children()
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return sb.String()
}

// Isomorphic reports whether a and b have the same shape, types and,
// unless structural is set, labels, as seen through view.
//
// Equal handles are isomorphic without further work. Otherwise the view
// hashes filter and a full comparison decides.
func Isomorphic(view View, a, b NodeID, structural bool) bool {
	if a == b {
		return true
	}
	ha, hb := view.Hashes(a), view.Hashes(b)
	if structural {
		if ha.Struct != hb.Struct {
			return false
		}
	} else if ha.Label != hb.Label {
		return false
	}
	return deepEqual(view, a, b, structural)
}

func deepEqual(view View, a, b NodeID, structural bool) bool {
	type pair struct{ a, b NodeID }
	s := view.Store()
	stack := []pair{{a, b}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.a == p.b {
			continue
		}
		va, vb := s.Resolve(p.a), s.Resolve(p.b)
		if va.Type() != vb.Type() {
			return false
		}
		if !structural && va.Label() != vb.Label() {
			return false
		}
		ca, cb := view.Children(p.a), view.Children(p.b)
		if len(ca) != len(cb) {
			return false
		}
		for i := range ca {
			stack = append(stack, pair{ca[i], cb[i]})
		}
	}
	return true
}
