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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

// Language binds a tree-sitter grammar to the type categories the
// matchers care about.
type Language struct {
	// Name is the canonical lowercase language name.
	Name string

	// Extensions handled by this language, with the leading dot.
	Extensions []string

	// Grammar returns the tree-sitter language.
	Grammar func() *sitter.Language

	// Classify maps grammar node kinds to categories.
	Classify types.Classifier
}

func classifier(identifiers, statements, declarations []string) types.Classifier {
	set := func(names []string) map[string]bool {
		m := make(map[string]bool, len(names))
		for _, n := range names {
			m[n] = true
		}
		return m
	}
	ids, stmts, decls := set(identifiers), set(statements), set(declarations)

	return func(name string) types.Category {
		var c types.Category
		if ids[name] {
			c |= types.CatIdentifier
		}
		if stmts[name] || strings.HasSuffix(name, "_statement") {
			c |= types.CatStatement
		}
		if decls[name] {
			c |= types.CatDeclaration | types.CatStatement
		}
		return c
	}
}

// Go returns the Go language binding.
func Go() *Language {
	return &Language{
		Name:       "go",
		Extensions: []string{".go"},
		Grammar:    golang.GetLanguage,
		Classify: classifier(
			[]string{"identifier", "field_identifier", "type_identifier", "package_identifier"},
			[]string{"short_var_declaration", "var_declaration", "const_declaration", "import_declaration", "package_clause"},
			[]string{"function_declaration", "method_declaration", "type_declaration"},
		),
	}
}

// Python returns the Python language binding.
func Python() *Language {
	return &Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		Grammar:    python.GetLanguage,
		Classify: classifier(
			[]string{"identifier"},
			nil,
			[]string{"function_definition", "class_definition", "decorated_definition"},
		),
	}
}

// JavaScript returns the JavaScript language binding.
func JavaScript() *Language {
	return &Language{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		Grammar:    javascript.GetLanguage,
		Classify: classifier(
			[]string{"identifier", "property_identifier", "shorthand_property_identifier"},
			[]string{"lexical_declaration", "variable_declaration"},
			[]string{"function_declaration", "generator_function_declaration", "class_declaration", "method_definition"},
		),
	}
}
