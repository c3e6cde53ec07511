// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package position implements the total order over positions within a
// partition's clustering space.
//
// A position is one of: before all rows, before/at/after a clustering key,
// or after all rows. Bounds tracked by the reader are never at-key
// positions; only rows themselves sit at at-key positions. Reversal maps a
// position in one key ordering to the equivalent position in the opposite
// ordering: before(K) and after(K) swap, the sentinels swap, and key
// comparisons invert via the reversed schema.
package position

import (
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
)

// region orders the three bands of the clustering space.
type region int8

const (
	regionBeforeAllRows region = -1
	regionClustered     region = 0
	regionAfterAllRows  region = 1
)

// Weight disambiguates positions sharing a clustering key.
type Weight int8

// Weights of positions relative to their key.
const (
	WeightBefore Weight = -1
	WeightAt     Weight = 0
	WeightAfter  Weight = 1
)

// Position is a point in the clustering space of a partition. The zero
// value is the before-all-rows position.
type Position struct {
	reg    region
	weight Weight
	key    []byte
}

// BeforeAllRows returns the position preceding every clustered row.
func BeforeAllRows() Position { return Position{reg: regionBeforeAllRows} }

// AfterAllRows returns the position following every clustered row.
func AfterAllRows() Position { return Position{reg: regionAfterAllRows} }

// BeforeKey returns the position immediately preceding key k.
func BeforeKey(k []byte) Position {
	return Position{reg: regionClustered, weight: WeightBefore, key: k}
}

// AtKey returns the position of the row with key k.
func AtKey(k []byte) Position {
	return Position{reg: regionClustered, weight: WeightAt, key: k}
}

// AfterKey returns the position immediately following key k.
func AfterKey(k []byte) Position {
	return Position{reg: regionClustered, weight: WeightAfter, key: k}
}

// Key returns the clustering key, or nil for the sentinels.
func (p Position) Key() []byte { return p.key }

// Weight returns the position's weight relative to its key.
func (p Position) Weight() Weight { return p.weight }

// IsClusteringRow reports whether the position is exactly at a row.
func (p Position) IsClusteringRow() bool {
	return p.reg == regionClustered && p.weight == WeightAt
}

// IsBeforeAllRows reports whether this is the before-all-rows sentinel.
func (p Position) IsBeforeAllRows() bool { return p.reg == regionBeforeAllRows }

// IsAfterAllRows reports whether this is the after-all-rows sentinel.
func (p Position) IsAfterAllRows() bool { return p.reg == regionAfterAllRows }

// Reversed maps the position into the opposite key ordering.
func (p Position) Reversed() Position {
	switch p.reg {
	case regionBeforeAllRows:
		return AfterAllRows()
	case regionAfterAllRows:
		return BeforeAllRows()
	}
	return Position{reg: regionClustered, weight: -p.weight, key: p.key}
}

// Compare orders a against b under the schema's key ordering.
func Compare(s *base.Schema, a, b Position) int {
	if a.reg != b.reg {
		if a.reg < b.reg {
			return -1
		}
		return 1
	}
	if a.reg != regionClustered {
		return 0
	}
	if c := s.Compare(a.key, b.key); c != 0 {
		return c
	}
	switch {
	case a.weight < b.weight:
		return -1
	case a.weight > b.weight:
		return 1
	}
	return 0
}

// Equal reports whether a and b are the same position under the schema.
func Equal(s *base.Schema, a, b Position) bool { return Compare(s, a, b) == 0 }

// Before returns the position just before p's clustering key: positions
// before, at or after a key all map to before(key); the sentinels are
// unchanged.
func Before(p Position) Position {
	if p.reg == regionClustered && p.weight >= WeightAt {
		return BeforeKey(p.key)
	}
	return p
}

// NoClusteringRowBetween reports whether no clustering row can possibly
// exist strictly between p and bound. Conservative: only positions sharing
// a key can be known row-free, and the row itself must not separate them.
func NoClusteringRowBetween(s *base.Schema, p, bound Position) bool {
	if p.reg != regionClustered || bound.reg != regionClustered ||
		s.Compare(p.key, bound.key) != 0 {
		return false
	}
	lo, hi := p.weight, bound.weight
	if lo > hi {
		lo, hi = hi, lo
	}
	return !(lo == WeightBefore && hi == WeightAfter)
}

// SafeFormat implements redact.SafeFormatter.
func (p Position) SafeFormat(w redact.SafePrinter, _ rune) {
	switch p.reg {
	case regionBeforeAllRows:
		w.SafeString("-inf")
	case regionAfterAllRows:
		w.SafeString("+inf")
	default:
		switch p.weight {
		case WeightBefore:
			w.Printf("before(%q)", p.key)
		case WeightAfter:
			w.Printf("after(%q)", p.key)
		default:
			w.Printf("at(%q)", p.key)
		}
	}
}

// String implements fmt.Stringer.
func (p Position) String() string { return redact.StringWithoutMarkers(p) }
