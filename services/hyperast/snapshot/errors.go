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

import "errors"

var (
	// ErrNoSnapshot indicates the database holds no snapshot.
	ErrNoSnapshot = errors.New("no snapshot")

	// ErrFormatMismatch indicates a snapshot written by another format
	// version. Callers rebuild from sources.
	ErrFormatMismatch = errors.New("snapshot format mismatch")

	// ErrCorrupt indicates a snapshot whose records do not fit together.
	ErrCorrupt = errors.New("corrupt snapshot")

	// ErrPathRequired indicates a persistent Config without a Path.
	ErrPathRequired = errors.New("path is required for persistent database")
)
