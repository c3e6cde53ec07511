// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"container/list"

	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
)

// RowEntry is a cache record anchored at a table-domain position.
//
// The continuous flag describes the open interval from the predecessor
// entry in the same version up to this entry: if set, that interval is
// known to contain no further rows and is covered by the entry's range
// tombstone. A dummy entry carries no row payload; it exists only to anchor
// a continuity or range-tombstone boundary.
type RowEntry struct {
	pos        position.Position
	row        base.Row // meaningful iff !dummy; may have no cells
	dummy      bool
	continuous bool
	rt         base.Tombstone

	version *Version
	lruElem *list.Element
	evicted bool
}

// Position returns the entry's table-domain position.
func (e *RowEntry) Position() position.Position { return e.pos }

// Dummy reports whether the entry carries no row payload.
func (e *RowEntry) Dummy() bool { return e.dummy }

// Continuous reports whether the interval from the predecessor entry up to
// this entry is known complete.
func (e *RowEntry) Continuous() bool { return e.continuous }

// RangeTombstone returns the tombstone covering the entry's interval and,
// for non-dummy entries, the row itself.
func (e *RowEntry) RangeTombstone() base.Tombstone { return e.rt }

// Row returns the entry's payload. Must not be called on dummies.
func (e *RowEntry) Row() *base.Row { return &e.row }

// SetContinuous marks the interval below the entry complete or incomplete.
func (e *RowEntry) SetContinuous(v bool) { e.continuous = v }

// SetRangeTombstone sets the tombstone covering the entry's interval.
func (e *RowEntry) SetRangeTombstone(t base.Tombstone) { e.rt = t }

// IsSentinel reports whether this is a version's after-all-rows bound
// entry. Sentinels are never evicted.
func (e *RowEntry) IsSentinel() bool { return e.pos.IsAfterAllRows() }

// MemoryUsage approximates the entry's footprint for region accounting.
func (e *RowEntry) MemoryUsage() int64 {
	n := int64(64) + int64(len(e.pos.Key()))
	if !e.dummy {
		n += e.row.MemoryUsage()
	}
	return n
}

// SafeFormat implements redact.SafeFormatter.
func (e *RowEntry) SafeFormat(w redact.SafePrinter, _ rune) {
	kind := redact.SafeString("row")
	if e.dummy {
		kind = "dummy"
	}
	w.Printf("%s@%v{cont=%t,rt=%v}", kind, e.pos, e.continuous, e.rt)
}

// String implements fmt.Stringer.
func (e *RowEntry) String() string { return redact.StringWithoutMarkers(e) }
