// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package position

import (
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
)

// Range is a half-open interval [Start, End) of positions. Neither bound is
// an at-key position.
type Range struct {
	Start Position
	End   Position
}

// All returns the range covering the whole clustering space.
func All() Range {
	return Range{Start: BeforeAllRows(), End: AfterAllRows()}
}

// SingleRow returns the range containing exactly the row with key k.
func SingleRow(k []byte) Range {
	return Range{Start: BeforeKey(k), End: AfterKey(k)}
}

// IsEmpty reports whether the range contains no positions.
func (r Range) IsEmpty(s *base.Schema) bool {
	return Compare(s, r.Start, r.End) >= 0
}

// IsSingleRow reports whether the range selects exactly one row.
func (r Range) IsSingleRow(s *base.Schema) bool {
	return r.Start.key != nil && r.End.key != nil &&
		s.Compare(r.Start.key, r.End.key) == 0 &&
		r.Start.weight == WeightBefore && r.End.weight == WeightAfter
}

// SingletonKey returns the key selected by a single-row range.
func (r Range) SingletonKey() []byte { return r.Start.key }

// Contains reports whether p falls within the range.
func (r Range) Contains(s *base.Schema, p Position) bool {
	return Compare(s, r.Start, p) <= 0 && Compare(s, p, r.End) < 0
}

// SafeFormat implements redact.SafeFormatter.
func (r Range) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%v, %v)", r.Start, r.End)
}

// String implements fmt.Stringer.
func (r Range) String() string { return redact.StringWithoutMarkers(r) }
