// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types defines the node type table contract shared by the node
// store, the tree builders, and the matchers.
//
// The matchers only need type equality plus a handful of category
// predicates (whitespace, hidden, statement, ...). Grammars describe
// their node kinds to a Registry by name; the Registry hands back dense
// Type values.
package types

import (
	"fmt"
	"sort"
	"sync"
)

// Type is a dense node type tag. It is never interchangeable with a node
// handle, an arena index, or a label id.
type Type uint16

// Predefined types, present in every Registry.
const (
	// Spaces tags whitespace leaves inserted between grammar tokens.
	Spaces Type = 0

	// Directory tags directory nodes built by directory ingestion.
	Directory Type = 1

	// File tags the root of one source file.
	File Type = 2
)

// Names of the predefined types.
const (
	SpacesName    = "spaces"
	DirectoryName = "directory"
	FileName      = "file"
)

// Table answers the category questions the matchers ask about a type.
//
// Implementations must be safe for concurrent readers.
type Table interface {
	Name(t Type) string
	IsSpace(t Type) bool
	IsHidden(t Type) bool
	IsIdentifier(t Type) bool
	IsStatement(t Type) bool
	IsDeclaration(t Type) bool
	IsFile(t Type) bool
}

// Resolver is a Table that can also intern type names. Tree builders
// depend on it.
type Resolver interface {
	Table
	Intern(name string) Type
}

// Filtered reports whether children of type t are hidden by the
// no-space view.
func Filtered(tbl Table, t Type) bool {
	return tbl.IsSpace(t) || tbl.IsHidden(t)
}

// Category is a bit set of type categories.
type Category uint8

const (
	CatSpace Category = 1 << iota
	CatHidden
	CatIdentifier
	CatStatement
	CatDeclaration
	CatFile
)

// Has reports whether all bits of o are set in c.
func (c Category) Has(o Category) bool { return c&o == o }

// Classifier maps a grammar node kind to its categories.
type Classifier func(name string) Category

// Registry is the concurrent Table implementation used throughout
// hyperdiff.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Intern takes the write lock
//	only when the name is new.
type Registry struct {
	mu          sync.RWMutex
	names       []string
	byName      map[string]Type
	cats        []Category
	classifiers map[string]Classifier
	order       []string
}

// NewRegistry creates a Registry holding the predefined types.
func NewRegistry() *Registry {
	r := &Registry{
		byName:      make(map[string]Type),
		classifiers: make(map[string]Classifier),
	}
	r.add(SpacesName, CatSpace)
	r.add(DirectoryName, 0)
	r.add(FileName, CatFile)
	return r
}

// add assumes the write lock is held or the registry is unpublished.
func (r *Registry) add(name string, cat Category) Type {
	if len(r.names) > int(^Type(0)) {
		panic(fmt.Sprintf("types: registry overflow interning %q", name))
	}
	t := Type(len(r.names))
	for _, key := range r.order {
		cat |= r.classifiers[key](name)
	}
	r.names = append(r.names, name)
	r.cats = append(r.cats, cat)
	r.byName[name] = t
	return t
}

// Intern returns the Type for name, creating it on first use.
func (r *Registry) Intern(name string) Type {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byName[name]; ok {
		return t
	}
	return r.add(name, 0)
}

// Lookup returns the Type registered for name, if any.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Mark interns name and adds the categories in cat to it.
func (r *Registry) Mark(name string, cat Category) Type {
	t := r.Intern(name)
	r.mu.Lock()
	r.cats[t] |= cat
	r.mu.Unlock()
	return t
}

// AddClassifier registers a classifier under key and applies it to every
// type already interned. Registering the same key twice is a no-op, so a
// parser may call it on every parse.
func (r *Registry) AddClassifier(key string, c Classifier) {
	r.mu.RLock()
	_, seen := r.classifiers[key]
	r.mu.RUnlock()
	if seen || c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.classifiers[key]; seen {
		return
	}
	r.classifiers[key] = c
	r.order = append(r.order, key)
	for i, name := range r.names {
		r.cats[i] |= c(name)
	}
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns the registered names indexed by Type.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Classifiers returns the registered classifier keys in sorted order.
func (r *Registry) Classifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

func (r *Registry) category(t Type) Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(t) >= len(r.cats) {
		panic(fmt.Sprintf("types: unknown type %d", t))
	}
	return r.cats[t]
}

// Name returns the registered name of t. Unknown types panic.
func (r *Registry) Name(t Type) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(t) >= len(r.names) {
		panic(fmt.Sprintf("types: unknown type %d", t))
	}
	return r.names[t]
}

func (r *Registry) IsSpace(t Type) bool       { return r.category(t).Has(CatSpace) }
func (r *Registry) IsHidden(t Type) bool      { return r.category(t).Has(CatHidden) }
func (r *Registry) IsIdentifier(t Type) bool  { return r.category(t).Has(CatIdentifier) }
func (r *Registry) IsStatement(t Type) bool   { return r.category(t).Has(CatStatement) }
func (r *Registry) IsDeclaration(t Type) bool { return r.category(t).Has(CatDeclaration) }
func (r *Registry) IsFile(t Type) bool        { return r.category(t).Has(CatFile) }

var _ Resolver = (*Registry)(nil)
