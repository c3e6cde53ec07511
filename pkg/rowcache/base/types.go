// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import (
	"hash/fnv"
	"sort"

	"github.com/cockroachdb/redact"
)

// NoTimestamp marks a tombstone that is not set.
const NoTimestamp int64 = -(1 << 62)

// Tombstone is a deletion marker. A tombstone covers writes with timestamps
// at or below its own. The zero value is the empty tombstone.
type Tombstone struct {
	Timestamp    int64
	DeletionTime int64
}

// IsSet reports whether the tombstone marks any deletion at all.
func (t Tombstone) IsSet() bool { return t != Tombstone{} && t.Timestamp != NoTimestamp }

// Covers reports whether a write at the given timestamp is shadowed by the
// tombstone.
func (t Tombstone) Covers(ts int64) bool { return t.IsSet() && ts <= t.Timestamp }

// SafeFormat implements redact.SafeFormatter.
func (t Tombstone) SafeFormat(w redact.SafePrinter, _ rune) {
	if !t.IsSet() {
		w.SafeString("{}")
		return
	}
	w.Printf("{ts=%d,del=%d}", t.Timestamp, t.DeletionTime)
}

// String implements fmt.Stringer.
func (t Tombstone) String() string { return redact.StringWithoutMarkers(t) }

// DecoratedKey identifies a partition: the raw partition key together with
// its position in the partition ring.
type DecoratedKey struct {
	Token uint64
	Key   []byte
}

// SafeFormat implements redact.SafeFormatter. The raw key bytes are user
// data and are marked unsafe, so redacted output elides them.
func (dk DecoratedKey) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("{token=%d,key=%q}", dk.Token, dk.Key)
}

// String implements fmt.Stringer.
func (dk DecoratedKey) String() string { return redact.StringWithoutMarkers(dk) }

// Cells maps column names to their encoded values.
type Cells map[string][]byte

// Clone returns a deep copy.
func (c Cells) Clone() Cells {
	if c == nil {
		return nil
	}
	out := make(Cells, len(c))
	for k, v := range c {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Hash folds the cells into a 64-bit digest in column order. Used for
// digest-requested reads, where the caller wants row checksums prepared
// before emission.
func (c Cells) Hash() uint64 {
	cols := make([]string, 0, len(c))
	for k := range c {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	h := fnv.New64a()
	for _, k := range cols {
		h.Write([]byte(k))
		h.Write(c[k])
	}
	return h.Sum64()
}

// Row is a clustering row: key, row-level tombstone, and regular cells.
// Digest is populated on demand for digest-requested reads.
type Row struct {
	Key    []byte
	Tomb   Tombstone
	Cells  Cells
	Digest uint64
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	return Row{
		Key:    append([]byte(nil), r.Key...),
		Tomb:   r.Tomb,
		Cells:  r.Cells.Clone(),
		Digest: r.Digest,
	}
}

// PrepareHash fills in the row digest if it has not been computed yet.
func (r *Row) PrepareHash() {
	if r.Digest == 0 {
		r.Digest = r.Cells.Hash()
	}
}

// MemoryUsage approximates the heap footprint of the row.
func (r Row) MemoryUsage() int64 {
	n := int64(len(r.Key)) + 48
	for k, v := range r.Cells {
		n += int64(len(k) + len(v) + 32)
	}
	return n
}

// StaticRow holds the static cells of a partition. An empty static row has
// no cells.
type StaticRow struct {
	Cells  Cells
	Digest uint64
}

// IsEmpty reports whether the static row has no cells.
func (sr StaticRow) IsEmpty() bool { return len(sr.Cells) == 0 }

// Apply merges cells from other into sr, other's cells winning conflicts.
func (sr *StaticRow) Apply(other StaticRow) {
	if len(other.Cells) == 0 {
		return
	}
	if sr.Cells == nil {
		sr.Cells = make(Cells, len(other.Cells))
	}
	for k, v := range other.Cells {
		sr.Cells[k] = append([]byte(nil), v...)
	}
	sr.Digest = 0
}

// PrepareHash fills in the static row digest if it has not been computed
// yet.
func (sr *StaticRow) PrepareHash() {
	if sr.Digest == 0 && !sr.IsEmpty() {
		sr.Digest = sr.Cells.Hash()
	}
}
