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

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format is the version tag written with every snapshot. Any change to
// the records below bumps it.
const Format = "hyperdiff/1"

// Key prefixes. Ids are appended big-endian so iteration is in id order.
const (
	keyManifest = "meta/manifest"
	prefixType  = "t/"
	prefixLabel = "l/"
	prefixNode  = "n/"
	prefixRoot  = "r/"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor enc mode: %v", err))
	}
	encMode = em
}

// Manifest describes a saved snapshot.
type Manifest struct {
	Format  string `cbor:"1,keyasint"`
	Types   uint32 `cbor:"2,keyasint"`
	Labels  uint32 `cbor:"3,keyasint"`
	Nodes   uint32 `cbor:"4,keyasint"`
	Roots   uint32 `cbor:"5,keyasint,omitempty"`
	Created int64  `cbor:"6,keyasint"`
}

// nodeRecord is one store node. Metrics are recomputed on load, so only
// the node's own line count is kept.
type nodeRecord struct {
	Type       uint16   `cbor:"1,keyasint"`
	Label      uint32   `cbor:"2,keyasint,omitempty"`
	Children   []uint32 `cbor:"3,keyasint,omitempty"`
	Lines      uint32   `cbor:"4,keyasint,omitempty"`
	HasBloom   bool     `cbor:"5,keyasint,omitempty"`
	BloomKind  uint8    `cbor:"6,keyasint,omitempty"`
	BloomK     uint8    `cbor:"7,keyasint,omitempty"`
	BloomWords []uint64 `cbor:"8,keyasint,omitempty"`
	Role       string   `cbor:"9,keyasint,omitempty"`
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: unmarshal manifest: %w", err)
	}
	return m, nil
}

func unmarshalNode(data []byte) (nodeRecord, error) {
	var r nodeRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nodeRecord{}, fmt.Errorf("snapshot: unmarshal node: %w", err)
	}
	return r, nil
}

func idKey(prefix string, id uint32) []byte {
	k := make([]byte, len(prefix)+4)
	copy(k, prefix)
	binary.BigEndian.PutUint32(k[len(prefix):], id)
	return k
}

func keyID(prefix string, key []byte) (uint32, bool) {
	if len(key) != len(prefix)+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[len(prefix):]), true
}
