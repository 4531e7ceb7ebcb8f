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
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
)

// Parser inserts one source file into a Builder.
type Parser interface {
	// Parse inserts content as a file node and returns its handle.
	//
	// Implementations must be safe for concurrent use with distinct
	// Builders.
	Parse(ctx context.Context, b *Builder, content []byte, filePath string) (store.NodeID, error)

	// Language returns the lowercase language name, e.g. "go".
	Language() string

	// Extensions returns the handled extensions with the leading dot.
	Extensions() []string
}

// ParserRegistry selects parsers by language name or file extension.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ParserRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// DefaultRegistry returns a registry with the Go, Python and JavaScript
// tree-sitter adapters.
func DefaultRegistry(opts ...TreeSitterOption) *ParserRegistry {
	r := NewParserRegistry()
	for _, lang := range []*Language{Go(), Python(), JavaScript()} {
		r.Register(NewTreeSitter(lang, opts...))
	}
	return r
}

// Register adds parser, replacing any parser previously registered for
// the same language or extensions. Nil is ignored.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[ext] = parser
	}
}

// GetByLanguage returns the parser for a language name.
func (r *ParserRegistry) GetByLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLanguage[language]
	return p, ok
}

// GetByExtension returns the parser for an extension such as ".go".
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExtension[ext]
	return p, ok
}

// ForFile returns the parser for path's extension, or an error wrapping
// ErrUnsupportedLanguage.
func (r *ParserRegistry) ForFile(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if p, ok := r.GetByExtension(ext); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, ext)
}

// Languages returns the registered language names, sorted.
func (r *ParserRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Extensions returns the registered extensions, sorted.
func (r *ParserRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
