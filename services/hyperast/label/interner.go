// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package label interns node labels (identifiers, literals, token text)
// into small dense ids.
package label

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ID is an interned label handle, stable for the lifetime of its Interner.
type ID uint32

// None marks a node without a label. It is never returned by Intern.
const None ID = 0

var internedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hyperast_label_interned_total",
	Help: "Distinct labels added to label interners",
})

// Interner deduplicates label strings.
//
// Thread Safety:
//
//	Safe for concurrent use. Readers never block each other; the write
//	lock is only taken for strings not seen before.
type Interner struct {
	mu   sync.RWMutex
	ids  map[string]ID
	strs []string
}

// New creates an empty Interner.
func New() *Interner {
	return &Interner{
		ids:  make(map[string]ID),
		strs: []string{""}, // slot 0 backs None
	}
}

// Intern returns the id of s, allocating one on first sight.
func (in *Interner) Intern(s string) ID {
	in.mu.RLock()
	id, ok := in.ids[s]
	in.mu.RUnlock()
	if ok {
		return id
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[s]; ok {
		return id
	}
	id = ID(len(in.strs))
	in.strs = append(in.strs, s)
	in.ids[s] = id
	internedTotal.Inc()
	return id
}

// InternBytes is Intern for a byte slice. The bytes are copied only when
// the label is new.
func (in *Interner) InternBytes(b []byte) ID {
	in.mu.RLock()
	id, ok := in.ids[string(b)]
	in.mu.RUnlock()
	if ok {
		return id
	}
	return in.Intern(string(b))
}

// Get returns the id of s without interning it.
func (in *Interner) Get(s string) (ID, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.ids[s]
	return id, ok
}

// Lookup returns the string for id.
//
// Looking up None or an id this Interner never returned is an invariant
// violation and panics.
func (in *Interner) Lookup(id ID) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if id == None || int(id) >= len(in.strs) {
		panic(fmt.Sprintf("label: unknown id %d", id))
	}
	return in.strs[id]
}

// Len returns the number of interned labels, excluding None.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.strs) - 1
}
