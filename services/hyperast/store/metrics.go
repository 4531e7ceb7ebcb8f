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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/hyperdiff/services/hyperast/label"
	"github.com/AleutianAI/hyperdiff/services/hyperast/types"
)

var (
	nodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hyperast_store_nodes_total",
		Help: "Nodes allocated across all node stores",
	})

	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hyperast_store_dedup_hits_total",
		Help: "Insertions resolved to an existing node",
	})

	dedupMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hyperast_store_dedup_misses_total",
		Help: "Insertions that allocated a new node",
	})
)

// Hashes is a pair of subtree hashes.
//
// Label covers types, labels and shape. Struct covers types and shape only.
type Hashes struct {
	Label  uint64
	Struct uint64
}

// Metrics are the per-subtree values computed once at insertion.
//
// The NoSpaces variants ignore children that the type table reports as
// whitespace or hidden, recursively.
type Metrics struct {
	Size           uint32
	SizeNoSpaces   uint32
	Height         uint32
	HeightNoSpaces uint32
	LineCount      uint32
	Hashes         Hashes
	HashesNoSpaces Hashes
}

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newHasher(t types.Type, l label.ID) *hasher {
	h := &hasher{d: xxhash.New()}
	h.add(uint64(t))
	h.add(uint64(l))
	return h
}

func (h *hasher) add(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) sum(arity int) uint64 {
	h.add(uint64(arity))
	return h.d.Sum64()
}

// ComputeMetrics derives the metrics of a prospective node from its
// already-stored children. lines is the number of line breaks in the
// node's own label; children contribute theirs.
func (s *Store) ComputeMetrics(t types.Type, l label.ID, children []NodeID, lines uint32) Metrics {
	m := Metrics{
		Size:           1,
		SizeNoSpaces:   1,
		Height:         1,
		HeightNoSpaces: 1,
		LineCount:      lines,
	}

	full := newHasher(t, l)
	shape := newHasher(t, label.None)
	fullNS := newHasher(t, l)
	shapeNS := newHasher(t, label.None)
	kept := 0

	for _, c := range children {
		cv := s.Resolve(c)
		cm := cv.Metrics()
		m.Size += cm.Size
		m.Height = max(m.Height, cm.Height+1)
		m.LineCount += cm.LineCount
		full.add(cm.Hashes.Label)
		shape.add(cm.Hashes.Struct)

		if types.Filtered(s.types, cv.Type()) {
			continue
		}
		kept++
		m.SizeNoSpaces += cm.SizeNoSpaces
		m.HeightNoSpaces = max(m.HeightNoSpaces, cm.HeightNoSpaces+1)
		fullNS.add(cm.HashesNoSpaces.Label)
		shapeNS.add(cm.HashesNoSpaces.Struct)
	}

	m.Hashes = Hashes{Label: full.sum(len(children)), Struct: shape.sum(len(children))}
	m.HashesNoSpaces = Hashes{Label: fullNS.sum(kept), Struct: shapeNS.sum(kept)}
	return m
}
