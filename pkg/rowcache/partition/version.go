// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/google/btree"
)

const btreeDegree = 8

// Version is one layer of a partition's cached state: an ordered map from
// table-domain position to row entry, plus the partition-level payloads.
// Versions form a newest-to-oldest chain; reads merge across the chain,
// populations target the newest layer only.
//
// Every version carries a sentinel entry at the after-all-rows position so
// that interval continuity is always bounded from above.
type Version struct {
	schema *base.Schema // table domain
	rows   *btree.BTreeG[*RowEntry]

	staticRow        base.StaticRow
	staticContinuous bool
	partitionTomb    base.Tombstone
}

func newVersion(s *base.Schema) *Version {
	v := &Version{schema: s}
	v.rows = btree.NewG[*RowEntry](btreeDegree, func(a, b *RowEntry) bool {
		return position.Compare(s, a.pos, b.pos) < 0
	})
	sentinel := &RowEntry{pos: position.AfterAllRows(), dummy: true, version: v}
	v.rows.ReplaceOrInsert(sentinel)
	return v
}

// Len returns the number of entries, including the sentinel.
func (v *Version) Len() int { return v.rows.Len() }

// StaticRow returns the version's static row payload.
func (v *Version) StaticRow() base.StaticRow { return v.staticRow }

// StaticRowContinuous reports whether the static row is known complete.
func (v *Version) StaticRowContinuous() bool { return v.staticContinuous }

// SetStaticRowContinuous marks the static row complete.
func (v *Version) SetStaticRowContinuous(val bool) { v.staticContinuous = val }

// ApplyStaticRow merges cells into the version's static row.
func (v *Version) ApplyStaticRow(sr base.StaticRow) { v.staticRow.Apply(sr) }

// PartitionTombstone returns the version's partition tombstone.
func (v *Version) PartitionTombstone() base.Tombstone { return v.partitionTomb }

// SetPartitionTombstone sets the version's partition tombstone.
func (v *Version) SetPartitionTombstone(t base.Tombstone) { v.partitionTomb = t }

// NewRowEntry constructs an entry at a table-domain position. A nil row
// makes a dummy entry.
func NewRowEntry(
	pos position.Position, row *base.Row, continuous bool, rt base.Tombstone,
) *RowEntry {
	e := &RowEntry{pos: pos, dummy: row == nil, continuous: continuous, rt: rt}
	if row != nil {
		e.row = *row
	}
	return e
}

// Get returns the entry exactly at pos, if any.
func (v *Version) Get(pos position.Position) *RowEntry { return v.get(pos) }

// Insert adds e unless an entry already exists at its position, in which
// case the existing entry is returned and inserted is false.
func (v *Version) Insert(e *RowEntry) (_ *RowEntry, inserted bool) { return v.insert(e) }

// NextAfter returns the first entry strictly after pos in table order.
func (v *Version) NextAfter(pos position.Position) *RowEntry { return v.firstGT(pos) }

// get returns the entry exactly at pos, if any.
func (v *Version) get(pos position.Position) *RowEntry {
	e, _ := v.rows.Get(&RowEntry{pos: pos})
	return e
}

// insert adds e unless an entry already exists at its position, in which
// case the existing entry is returned and inserted is false.
func (v *Version) insert(e *RowEntry) (_ *RowEntry, inserted bool) {
	if existing := v.get(e.pos); existing != nil {
		return existing, false
	}
	e.version = v
	v.rows.ReplaceOrInsert(e)
	return e, true
}

// remove deletes e from the version.
func (v *Version) remove(e *RowEntry) {
	v.rows.Delete(e)
}

// firstGE returns the first entry at or after pos in table order.
func (v *Version) firstGE(pos position.Position) *RowEntry {
	var out *RowEntry
	v.rows.AscendGreaterOrEqual(&RowEntry{pos: pos}, func(e *RowEntry) bool {
		out = e
		return false
	})
	return out
}

// firstGT returns the first entry strictly after pos in table order.
func (v *Version) firstGT(pos position.Position) *RowEntry {
	var out *RowEntry
	v.rows.AscendGreaterOrEqual(&RowEntry{pos: pos}, func(e *RowEntry) bool {
		if position.Compare(v.schema, e.pos, pos) > 0 {
			out = e
			return false
		}
		return true
	})
	return out
}

// lastLE returns the last entry at or before pos in table order.
func (v *Version) lastLE(pos position.Position) *RowEntry {
	var out *RowEntry
	v.rows.DescendLessOrEqual(&RowEntry{pos: pos}, func(e *RowEntry) bool {
		out = e
		return false
	})
	return out
}

// lastLT returns the last entry strictly before pos in table order.
func (v *Version) lastLT(pos position.Position) *RowEntry {
	var out *RowEntry
	v.rows.DescendLessOrEqual(&RowEntry{pos: pos}, func(e *RowEntry) bool {
		if position.Compare(v.schema, e.pos, pos) < 0 {
			out = e
			return false
		}
		return true
	})
	return out
}

// ascend visits entries in table order starting at the first entry >= pos.
func (v *Version) ascend(pos position.Position, fn func(e *RowEntry) bool) {
	v.rows.AscendGreaterOrEqual(&RowEntry{pos: pos}, fn)
}
