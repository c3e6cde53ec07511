// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
)

// RowWeakRef is a weak back-reference to a row entry, used by readers as
// the continuity anchor. Eviction may invalidate it at any time; Refresh
// re-resolves the reference by position and reports failure when the entry
// is gone from every visible version.
type RowWeakRef struct {
	valid bool
	pos   position.Position // table domain
	entry *RowEntry
	gen   uint64
}

// Set points the reference at an entry.
func (w *RowWeakRef) Set(snp *Snapshot, e *RowEntry) {
	w.valid = true
	w.pos = e.pos
	w.entry = e
	w.gen = snp.Region().Generation()
}

// Clear nulls the reference.
func (w *RowWeakRef) Clear() {
	*w = RowWeakRef{}
}

// IsSet reports whether the reference points anywhere at all.
func (w *RowWeakRef) IsSet() bool { return w.valid }

// Position returns the table-domain position of the referenced entry.
func (w *RowWeakRef) Position() position.Position { return w.pos }

// Entry returns the referenced entry. Only meaningful after a successful
// Refresh under the current region generation.
func (w *RowWeakRef) Entry() *RowEntry { return w.entry }

// Refresh re-resolves the reference against the snapshot. Returns false if
// the entry was evicted from all visible versions.
func (w *RowWeakRef) Refresh(snp *Snapshot) bool {
	if !w.valid {
		return false
	}
	if w.gen == snp.Region().Generation() && w.entry != nil && !w.entry.evicted {
		return true
	}
	for _, v := range snp.Versions() {
		if e := v.get(w.pos); e != nil {
			w.entry = e
			w.gen = snp.Region().Generation()
			return true
		}
	}
	w.Clear()
	return false
}

// IsInLatestVersion reports whether the resolved entry lives in the
// snapshot's newest version. Call after a successful Refresh.
func (w *RowWeakRef) IsInLatestVersion(snp *Snapshot) bool {
	return w.entry != nil && w.entry.version == snp.Version()
}

// SetLatest repoints the reference at an entry known to be in the latest
// version.
func (w *RowWeakRef) SetLatest(snp *Snapshot, e *RowEntry) {
	w.Set(snp, e)
}
