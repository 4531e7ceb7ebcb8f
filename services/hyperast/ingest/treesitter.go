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
	"log/slog"
	"path/filepath"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/hyperdiff/services/hyperast/store"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// File size limits.
const (
	// DefaultMaxFileSize is the largest file the adapter accepts (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// TreeSitter parses source with a tree-sitter grammar and inserts the
// concrete syntax tree into a Builder.
//
// Every byte of the input ends up in a leaf label: tokens keep their text
// and the gaps between tokens become "spaces" leaves, so store.Text of the
// returned file node reproduces the input exactly.
//
// Thread Safety:
//
//	Safe for concurrent use with distinct Builders. A new tree-sitter
//	parser is created per call.
type TreeSitter struct {
	lang        *Language
	maxFileSize int
	logger      *slog.Logger
}

// TreeSitterOption configures a TreeSitter.
type TreeSitterOption func(*TreeSitter)

// WithMaxFileSize sets the maximum accepted content size in bytes.
func WithMaxFileSize(n int) TreeSitterOption {
	return func(p *TreeSitter) {
		if n > 0 {
			p.maxFileSize = n
		}
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) TreeSitterOption {
	return func(p *TreeSitter) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewTreeSitter creates an adapter for lang.
func NewTreeSitter(lang *Language, opts ...TreeSitterOption) *TreeSitter {
	p := &TreeSitter{
		lang:        lang,
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language returns the canonical language name.
func (p *TreeSitter) Language() string { return p.lang.Name }

// Extensions returns the handled file extensions.
func (p *TreeSitter) Extensions() []string { return p.lang.Extensions }

type classifierSink interface {
	AddClassifier(key string, c types.Classifier)
}

// Parse parses content and inserts it as a "file" node labeled with the
// base name of filePath.
//
// Description:
//
//	Syntax errors do not fail the parse; tree-sitter ERROR nodes are
//	inserted like any other node. Only oversized content, invalid UTF-8,
//	cancellation and a missing tree are errors.
//
// Inputs:
//
//	ctx - Checked before and after the tree-sitter parse.
//	b - Builder to insert into. Parse leaves its depth unchanged.
//	content - Source bytes.
//	filePath - Path used for the file label and errors.
//
// Outputs:
//
//	store.NodeID - The file node.
//	error - ErrFileTooLarge, ErrInvalidContent, a ctx error, or a *ParseError.
func (p *TreeSitter) Parse(ctx context.Context, b *Builder, content []byte, filePath string) (store.NodeID, error) {
	ctx, span := startParseSpan(ctx, p.lang.Name, filePath, len(content))
	defer span.End()

	start := time.Now()
	fail := func(err error) (store.NodeID, error) {
		recordParseMetrics(ctx, p.lang.Name, time.Since(start), 0, false)
		span.RecordError(err)
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled before start: %w", err))
	}
	if len(content) > p.maxFileSize {
		return fail(fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize))
	}
	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return fail(fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent))
	}

	if sink, ok := b.Types().(classifierSink); ok {
		sink.AddClassifier("lang:"+p.lang.Name, p.lang.Classify)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(p.lang.Grammar())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fail(&ParseError{FilePath: filePath, Message: "tree-sitter parse failed", Cause: fmt.Errorf("%w: %w", ErrParseFailed, err)})
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled after tree-sitter: %w", err))
	}

	root := tree.RootNode()
	if root == nil {
		return fail(&ParseError{FilePath: filePath, Message: "tree-sitter returned nil root node", Cause: ErrParseFailed})
	}
	if root.HasError() {
		p.logger.Debug("source contains syntax errors", slog.String("file", filePath))
	}

	before := b.Visited()
	b.Open(types.FileName, "")
	pos := p.gap(b, content, 0, root.StartByte())
	p.walk(b, root, "", content)
	p.gap(b, content, max(pos, root.EndByte()), uint32(len(content)))
	id := b.CloseLabeled(filepath.Base(filePath))

	visited := b.Visited() - before
	span.SetAttributes(attribute.Int("ingest.nodes_visited", visited))
	recordParseMetrics(ctx, p.lang.Name, time.Since(start), visited, true)
	return id, nil
}

// gap inserts content[from:to] as a whitespace leaf when non-empty and
// returns to.
func (p *TreeSitter) gap(b *Builder, content []byte, from, to uint32) uint32 {
	if to > from && int(to) <= len(content) {
		b.Leaf(types.SpacesName, "", string(content[from:to]))
	}
	return to
}

func (p *TreeSitter) walk(b *Builder, n *sitter.Node, role store.Role, content []byte) {
	count := int(n.ChildCount())
	if count == 0 {
		b.Leaf(n.Type(), role, string(content[n.StartByte():n.EndByte()]))
		return
	}

	b.Open(n.Type(), role)
	pos := n.StartByte()
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.StartByte() > pos {
			p.gap(b, content, pos, c.StartByte())
		}
		p.walk(b, c, store.Role(n.FieldNameForChild(i)), content)
		pos = max(pos, c.EndByte())
	}
	p.gap(b, content, pos, n.EndByte())
	b.Close()
}
