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

import "errors"

var (
	// ErrInvalidHandle is carried by the panic raised when a handle the
	// store never allocated is resolved.
	ErrInvalidHandle = errors.New("store: invalid node handle")

	// ErrStoreFull is carried by the panic raised when the handle space
	// is exhausted.
	ErrStoreFull = errors.New("store: handle space exhausted")
)
