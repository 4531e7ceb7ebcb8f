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
	"errors"
	"fmt"
)

// Sentinel errors for ingestion.
var (
	// ErrUnsupportedLanguage indicates no parser is registered for a file.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates tree-sitter produced no tree.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates the content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ParseError describes a failure to ingest one file.
type ParseError struct {
	// FilePath is the path of the file that failed.
	FilePath string

	// Line is the 1-based line of the failure, 0 if unknown.
	Line int

	// Message describes what went wrong.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapParseError attaches filePath to err unless it already is a
// *ParseError. A nil err stays nil.
func WrapParseError(err error, filePath string) error {
	if err == nil {
		return nil
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return err
	}
	return &ParseError{
		FilePath: filePath,
		Message:  err.Error(),
		Cause:    err,
	}
}

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// skippable reports whether directory ingestion may skip the file and
// carry on.
func skippable(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrFileTooLarge)
}
