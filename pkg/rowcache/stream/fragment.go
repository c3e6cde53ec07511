// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stream defines the ordered fragment stream a partition read
// produces, and the buffer readers stage fragments in.
//
// A partition's stream begins with a partition-start fragment and ends with
// a partition-end fragment. In between, static-row, clustering-row and
// range-tombstone-change fragments appear in strictly increasing position
// order (query domain). A range-tombstone-change with a set tombstone opens
// a range deletion; one with an empty tombstone closes it. At most one
// deletion is open at any point in the stream.
package stream

import (
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
)

// Kind discriminates the fragment variants.
type Kind uint8

// The fragment variants.
const (
	KindPartitionStart Kind = iota
	KindStaticRow
	KindClusteringRow
	KindRangeTombstoneChange
	KindPartitionEnd
)

// SafeFormat implements redact.SafeFormatter.
func (k Kind) SafeFormat(w redact.SafePrinter, _ rune) {
	switch k {
	case KindPartitionStart:
		w.SafeString("partition-start")
	case KindStaticRow:
		w.SafeString("static-row")
	case KindClusteringRow:
		w.SafeString("clustering-row")
	case KindRangeTombstoneChange:
		w.SafeString("range-tombstone-change")
	case KindPartitionEnd:
		w.SafeString("partition-end")
	default:
		w.Printf("kind(%d)", uint8(k))
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return redact.StringWithoutMarkers(k) }

// Fragment is a tagged variant over the five stream event kinds. Only the
// fields of the active kind are meaningful.
type Fragment struct {
	Kind Kind

	// Partition start.
	Key           base.DecoratedKey
	PartitionTomb base.Tombstone

	// Static row.
	Static base.StaticRow

	// Clustering row.
	Row base.Row

	// Range tombstone change.
	Pos  position.Position
	Tomb base.Tombstone
}

// PartitionStart returns a partition-start fragment.
func PartitionStart(key base.DecoratedKey, tomb base.Tombstone) Fragment {
	return Fragment{Kind: KindPartitionStart, Key: key, PartitionTomb: tomb}
}

// StaticRowFragment returns a static-row fragment.
func StaticRowFragment(sr base.StaticRow) Fragment {
	return Fragment{Kind: KindStaticRow, Static: sr}
}

// ClusteringRow returns a clustering-row fragment.
func ClusteringRow(row base.Row) Fragment {
	return Fragment{Kind: KindClusteringRow, Row: row}
}

// RangeTombstoneChange returns a range-tombstone-change fragment at pos. A
// set tombstone opens a deletion, an empty one closes it.
func RangeTombstoneChange(pos position.Position, tomb base.Tombstone) Fragment {
	return Fragment{Kind: KindRangeTombstoneChange, Pos: pos, Tomb: tomb}
}

// PartitionEnd returns a partition-end fragment.
func PartitionEnd() Fragment {
	return Fragment{Kind: KindPartitionEnd}
}

// Position returns the fragment's position in the stream order.
func (f Fragment) Position() position.Position {
	switch f.Kind {
	case KindClusteringRow:
		return position.AtKey(f.Row.Key)
	case KindRangeTombstoneChange:
		return f.Pos
	case KindPartitionEnd:
		return position.AfterAllRows()
	default:
		return position.BeforeAllRows()
	}
}

// IsOpening reports whether a range-tombstone-change fragment opens a
// deletion.
func (f Fragment) IsOpening() bool {
	return f.Kind == KindRangeTombstoneChange && f.Tomb.IsSet()
}

// MemoryUsage approximates the heap footprint of the fragment for permit
// accounting.
func (f Fragment) MemoryUsage() int64 {
	n := int64(96)
	switch f.Kind {
	case KindClusteringRow:
		n += f.Row.MemoryUsage()
	case KindStaticRow:
		for k, v := range f.Static.Cells {
			n += int64(len(k) + len(v) + 32)
		}
	}
	return n
}

// SafeFormat implements redact.SafeFormatter.
func (f Fragment) SafeFormat(w redact.SafePrinter, _ rune) {
	switch f.Kind {
	case KindPartitionStart:
		w.Printf("ps%v@%v", f.PartitionTomb, f.Key)
	case KindStaticRow:
		w.Printf("sr(%d cells)", len(f.Static.Cells))
	case KindClusteringRow:
		w.Printf("cr(%q)%v", f.Row.Key, f.Row.Tomb)
	case KindRangeTombstoneChange:
		w.Printf("rtc(%v, %v)", f.Pos, f.Tomb)
	case KindPartitionEnd:
		w.SafeString("pe")
	}
}

// String implements fmt.Stringer.
func (f Fragment) String() string { return redact.StringWithoutMarkers(f) }
