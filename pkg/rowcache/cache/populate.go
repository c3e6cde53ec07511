// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cache

import (
	"context"

	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/partition"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/cockroachdb/rowcache/pkg/rowcache/stream"
	"github.com/cockroachdb/rowcache/pkg/util/log"
)

// canPopulate reports whether cache inserts are currently permitted: the
// snapshot must still be the partition's latest version and the read must
// have been planned under the current cache phase for the key.
func (r *Reader) canPopulate() bool {
	return r.snp.AtLatestVersion() &&
		r.rctx.Cache().PhaseOf(r.rctx.Key()) == r.rctx.Phase()
}

// insertIntoLatest accounts and inserts an entry into the snapshot's
// latest version. If an entry already exists at the position it is
// returned unchanged with inserted=false. Allocation failure discards the
// partial work by invalidating references and returns the error; callers
// skip the population and carry on.
func (r *Reader) insertIntoLatest(
	e *partition.RowEntry,
) (_ *partition.RowEntry, inserted bool, _ error) {
	if err := r.snp.Region().Alloc(e.MemoryUsage()); err != nil {
		r.snp.Region().InvalidateReferences()
		return nil, false, err
	}
	out, inserted := r.snp.Version().Insert(e)
	if inserted {
		r.snp.Tracker().Insert(out)
	} else {
		r.snp.Region().Free(e.MemoryUsage())
	}
	return out, inserted, nil
}

// ensurePopulationLowerBound makes sure lastRow references an entry in the
// latest version at the expected continuity anchor. Returns false if the
// anchor was lost to eviction and the range cannot be populated. Assumes
// canPopulate. In reverse reads lastRow always resolves to a concrete
// latest-version entry on success; in forward reads it may stay unset when
// the population range starts before all rows.
func (r *Reader) ensurePopulationLowerBound(ctx context.Context) bool {
	if r.popRangeStartsBeforeAllRows {
		return true
	}
	if !r.lastRow.Refresh(r.snp) {
		return false
	}
	// The continuity flag set for the upper bound extends to the previous
	// entry in the same version, so the anchor must exist in the latest.
	if !r.lastRow.IsInLatestVersion(r.snp) {
		cur := partition.NewCursor(r.schema, r.snp, r.rctx.IsReversed())
		if !cur.AdvanceTo(r.toQueryDomain(r.lastRow.Position())) ||
			!position.Equal(r.tableSchema(), cur.TablePosition(), r.lastRow.Position()) {
			return false
		}
		e, inserted, err := cur.EnsureEntryInLatest()
		if err != nil {
			r.snp.Region().InvalidateReferences()
			return false
		}
		r.lastRow.SetLatest(r.snp, e)
		if inserted {
			log.VEventf(ctx, 3, "inserted lower bound dummy at %v", r.lastRow.Position())
		}
	}
	return true
}

// maybeUpdateContinuity marks the interval between lastRow and the cursor
// continuous under currentTomb, provided the cache still matches the
// latest version. When the terminal entry is a real row stored under a
// different tombstone, a dummy just below it takes the interval tombstone
// so that the row keeps its own.
func (r *Reader) maybeUpdateContinuity(ctx context.Context) {
	if !r.canPopulate() || !r.ensurePopulationLowerBound(ctx) ||
		position.Equal(r.tableSchema(), r.lastRow.Position(), r.next.TablePosition()) {
		r.rctx.Cache().OnMispopulate()
		return
	}
	e, _, err := r.next.EnsureEntryInLatest()
	if err != nil {
		r.snp.Region().InvalidateReferences()
		r.rctx.Cache().OnMispopulate()
		return
	}
	if r.rctx.IsReversed() {
		anchor := r.lastRow.Entry()
		if r.currentTomb != anchor.RangeTombstone() && !anchor.Dummy() {
			d, _, derr := r.insertIntoLatest(partition.NewRowEntry(
				position.BeforeKey(anchor.Position().Key()), nil, true, r.currentTomb))
			if derr != nil {
				r.rctx.Cache().OnMispopulate()
				return
			}
			log.VEventf(ctx, 3, "set continuous(%v), rt=%v", d.Position(), r.currentTomb)
			d.SetContinuous(true)
			d.SetRangeTombstone(r.currentTomb)
			anchor.SetContinuous(true)
		} else {
			log.VEventf(ctx, 3, "set continuous(%v), rt=%v", anchor.Position(), r.currentTomb)
			anchor.SetContinuous(true)
			anchor.SetRangeTombstone(r.currentTomb)
		}
	} else {
		if r.currentTomb != e.RangeTombstone() && !e.Dummy() {
			d, _, derr := r.insertIntoLatest(partition.NewRowEntry(
				position.BeforeKey(e.Position().Key()), nil, true, r.currentTomb))
			if derr != nil {
				r.rctx.Cache().OnMispopulate()
				return
			}
			log.VEventf(ctx, 3, "set continuous(%v), rt=%v", d.Position(), r.currentTomb)
			d.SetContinuous(true)
			d.SetRangeTombstone(r.currentTomb)
			e.SetContinuous(true)
		} else {
			log.VEventf(ctx, 3, "set continuous(%v), rt=%v", e.Position(), r.currentTomb)
			e.SetRangeTombstone(r.currentTomb)
			e.SetContinuous(true)
		}
	}
	r.maybeDropLastEntry(ctx, r.currentTomb)
}

// maybeAddRowToCache populates a clustering row observed from the
// underlying source and extends continuity from lastRow over it.
func (r *Reader) maybeAddRowToCache(ctx context.Context, row base.Row) {
	if !r.canPopulate() {
		r.lastRow.Clear()
		r.popRangeStartsBeforeAllRows = false
		r.rctx.Cache().OnMispopulate()
		return
	}
	log.VEventf(ctx, 3, "populate(%q), rt=%v", row.Key, r.currentTomb)
	r.snp.Region().RunInUpdateSection(func() {
		rowCopy := row.Clone()
		if r.rctx.DigestRequested() {
			rowCopy.PrepareHash()
		}
		e, _, err := r.insertIntoLatest(partition.NewRowEntry(
			position.AtKey(rowCopy.Key), &rowCopy, false, r.currentTomb))
		if err != nil {
			r.lastRow.Clear()
			r.popRangeStartsBeforeAllRows = false
			r.rctx.Cache().OnMispopulate()
			return
		}
		if r.ensurePopulationLowerBound(ctx) {
			if r.rctx.IsReversed() {
				anchor := r.lastRow.Entry()
				log.VEventf(ctx, 3, "set continuous(%v)", anchor.Position())
				anchor.SetContinuous(true)
				// currentTomb must also apply to the anchor itself when it
				// is a real row: otherwise a tombstone change would have
				// followed it in the stream.
				anchor.SetRangeTombstone(r.currentTomb)
			} else {
				log.VEventf(ctx, 3, "set continuous(%v)", e.Position())
				e.SetContinuous(true)
				e.SetRangeTombstone(r.currentTomb)
			}
		} else {
			r.rctx.Cache().OnMispopulate()
		}
		r.lastRow.Set(r.snp, e)
		r.popRangeStartsBeforeAllRows = false
	})
}

// maybeAddRTCToCache handles a range tombstone change from the underlying
// source. It returns false when the change must not be emitted: at the
// slice boundary, where the same tombstone may continue from cache, or
// when the tombstone equals the active one.
func (r *Reader) maybeAddRTCToCache(ctx context.Context, mf stream.Fragment) bool {
	log.VEventf(ctx, 3, "maybe add to cache: %v", mf)

	// The closing change at the slice boundary is suppressed; reading
	// continues from cache and the tombstone may extend past the boundary.
	// Relies on the underlying upper bound not being a row position.
	if position.Equal(r.schema, mf.Pos, *r.underlyingUpperBound) {
		r.lowerBound = mf.Pos
		return false
	}

	prev := r.currentTomb
	r.currentTomb = mf.Tomb
	if r.currentTomb == prev {
		return false
	}

	if !r.canPopulate() {
		// currentTomb is now stale for population purposes and remains so
		// for this reader.
		r.lastRow.Clear()
		r.popRangeStartsBeforeAllRows = false
		r.rctx.Cache().OnMispopulate()
		return true
	}

	r.snp.Region().RunInUpdateSection(func() {
		e, _, err := r.insertIntoLatest(partition.NewRowEntry(
			r.toTableDomain(mf.Pos), nil, false, base.Tombstone{}))
		if err != nil {
			r.lastRow.Clear()
			r.popRangeStartsBeforeAllRows = false
			r.rctx.Cache().OnMispopulate()
			return
		}
		if r.ensurePopulationLowerBound(ctx) {
			// The underlying may emit tombstone changes sharing a position;
			// the first one then covers an empty range and is not recorded.
			if position.Compare(r.schema, r.toQueryDomain(r.lastRow.Position()), mf.Pos) < 0 {
				if r.rctx.IsReversed() {
					anchor := r.lastRow.Entry()
					log.VEventf(ctx, 3, "set continuous(%v), rt=%v", anchor.Position(), prev)
					anchor.SetContinuous(true)
					anchor.SetRangeTombstone(prev)
				} else {
					log.VEventf(ctx, 3, "set continuous(%v), rt=%v", e.Position(), prev)
					e.SetContinuous(true)
					e.SetRangeTombstone(prev)
				}
			}
		} else {
			r.rctx.Cache().OnMispopulate()
		}
		r.lastRow.Set(r.snp, e)
		r.popRangeStartsBeforeAllRows = false
	})
	return true
}

// maybeAddStaticRowToCache populates the static row observed from the
// underlying source.
func (r *Reader) maybeAddStaticRowToCache(ctx context.Context, sr base.StaticRow) {
	if !r.canPopulate() {
		r.rctx.Cache().OnMispopulate()
		return
	}
	log.VEventf(ctx, 3, "populate static row")
	r.rctx.Cache().OnStaticRowInsert()
	r.snp.Region().RunInUpdateSection(func() {
		if r.rctx.DigestRequested() {
			sr.PrepareHash()
		}
		r.snp.Version().ApplyStaticRow(sr)
	})
}

// maybeSetStaticRowContinuous marks the static row complete after it has
// been read from the underlying source.
func (r *Reader) maybeSetStaticRowContinuous(ctx context.Context) {
	if !r.canPopulate() {
		r.rctx.Cache().OnMispopulate()
		return
	}
	log.VEventf(ctx, 3, "set static row continuous")
	r.snp.Region().RunInUpdateSection(func() {
		r.snp.Version().SetStaticRowContinuous(true)
	})
}

// maybeDropLastEntry drops the lastRow dummy when it sits inside a
// continuous interval under the same tombstone, so that unnecessary
// dummies do not accumulate and slow down scans. Only legal when the
// snapshot is both the latest and the oldest version: eviction takes from
// oldest versions first to preserve the continuity non-overlapping rule.
// Invalidates references but leaves the cursor revalidated in place.
func (r *Reader) maybeDropLastEntry(ctx context.Context, rt base.Tombstone) {
	if !r.lastRow.IsSet() || r.rctx.IsReversed() {
		return
	}
	if !r.lastRow.Refresh(r.snp) {
		return
	}
	e := r.lastRow.Entry()
	if !e.Dummy() || !e.Continuous() || e.RangeTombstone() != rt || e.IsSentinel() ||
		!r.snp.AtLatestVersion() || !r.snp.AtOldestVersion() {
		return
	}
	log.VEventf(ctx, 3, "dropping unnecessary dummy at %v", e.Position())
	if err := r.snp.Evict(e); err != nil {
		return
	}
	r.lastRow.Clear()
	// Iterators pointing at the dropped entry are gone; moveToNextEntry
	// expects the cursor itself to stay usable.
	r.next.ForceValid()
}
