// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/partition"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/cockroachdb/rowcache/pkg/rowcache/stream"
	"github.com/cockroachdb/rowcache/pkg/util/log"
	"golang.org/x/sync/errgroup"
)

type readerState int8

const (
	stateBeforeStaticRow readerState = iota

	// Invariants:
	//  - [lowerBound, upperBound) covers all not yet emitted positions from
	//    the current range
	//  - if next has valid iterators:
	//    - next points at the nearest entry in cache >= lowerBound
	//    - nextRowInRange = next.Position() < upperBound
	//  - if next doesn't have valid iterators, it has no meaning.
	stateReadingFromCache

	// Starts reading from the underlying reader. The range to read is
	// [lowerBound, min(next.Position(), upperBound)).
	stateMoveToUnderlying

	// Invariants:
	//  - upper bound of the read is *underlyingUpperBound
	//  - lastRow points at a direct predecessor of the next row which is
	//    going to be read; used for populating continuity
	//  - popRangeStartsBeforeAllRows is set accordingly
	//  - the underlying reader is open and fast-forwarded
	stateReadingFromUnderlying

	stateEndOfStream
)

// readerStepQuota bounds the work done per FillBuffer call, standing in
// for scheduler preemption requests.
const readerStepQuota = 128

// Reader streams one partition, merging the cache snapshot with the
// underlying source and populating the cache as it goes. Construct with
// NewReader or NewReaderOwningContext, call FillBuffer until EndOfStream,
// drain fragments with PopFragment, and Close when done.
type Reader struct {
	schema *base.Schema // query domain
	dk     base.DecoratedKey
	ranges []position.Range // query domain
	snp    *partition.Snapshot
	rctx   *ReadContext
	// The read context is either owned by the reader, which is then
	// responsible for closing it, or borrowed from the caller.
	ownsCtx bool

	rangeIdx int
	next     *partition.Cursor
	lastRow  partition.RowWeakRef

	// lowerBound is the lower bound of the position range which hasn't been
	// processed yet. Only rows with positions < lowerBound have been
	// emitted, and only range tombstone changes with positions <=
	// lowerBound. Neither bound is ever a clustering-row position.
	lowerBound position.Position
	upperBound position.Position
	// underlyingUpperBound caps the slice being read from the underlying
	// source.
	underlyingUpperBound *position.Position

	// currentTomb is the range tombstone active in the output stream. It
	// applies to the key range extending at least to lowerBound. When the
	// next interval carries a different tombstone, a range tombstone change
	// is emitted at the old lowerBound.
	currentTomb base.Tombstone

	state          readerState
	nextRowInRange bool
	hasRT          bool

	// popRangeStartsBeforeAllRows is true iff the current population
	// interval, since the previous clustering row, starts before all
	// clustered rows. lowerBound itself moves as tombstone changes are
	// emitted, so it cannot answer this. Valid in
	// stateReadingFromUnderlying. Forward reads only.
	popRangeStartsBeforeAllRows bool

	underlying UnderlyingReader

	buf         *stream.Buffer
	endOfStream bool
	closed      bool
	steps       int
}

// NewReader constructs a reader over snp with a borrowed read context; the
// caller remains responsible for closing rctx. The reader assumes the
// reference on snp and releases it on Close. The partition-start fragment
// is buffered immediately.
func NewReader(
	s *base.Schema,
	dk base.DecoratedKey,
	ranges []position.Range,
	rctx *ReadContext,
	snp *partition.Snapshot,
) *Reader {
	r := &Reader{
		schema: s,
		dk:     dk,
		ranges: ranges,
		snp:    snp,
		rctx:   rctx,
		next:   partition.NewCursor(s, snp, rctx.IsReversed()),
		buf:    stream.NewBuffer(0),
	}
	r.pushFragment(stream.PartitionStart(dk, snp.PartitionTombstone()))
	return r
}

// NewReaderOwningContext is NewReader with ownership of the read context
// transferred to the reader, which closes it on Close.
func NewReaderOwningContext(
	s *base.Schema,
	dk base.DecoratedKey,
	ranges []position.Range,
	rctx *ReadContext,
	snp *partition.Snapshot,
) *Reader {
	r := NewReader(s, dk, ranges, rctx, snp)
	r.ownsCtx = true
	return r
}

func (r *Reader) annotate(ctx context.Context) context.Context {
	return logtags.AddTag(ctx, "csm", r.rctx.ID().String()[:8])
}

func (r *Reader) tableSchema() *base.Schema { return r.snp.Schema() }

func (r *Reader) toTableDomain(p position.Position) position.Position {
	if r.rctx.IsReversed() {
		return p.Reversed()
	}
	return p
}

func (r *Reader) toQueryDomain(p position.Position) position.Position {
	if r.rctx.IsReversed() {
		return p.Reversed()
	}
	return p
}

func (r *Reader) needPreempt() bool { return r.steps >= readerStepQuota }

// EndOfStream reports whether the partition-end fragment has been
// buffered and no further fragments will be produced.
func (r *Reader) EndOfStream() bool { return r.endOfStream }

// IsBufferEmpty reports whether all buffered fragments have been popped.
func (r *Reader) IsBufferEmpty() bool { return r.buf.IsEmpty() }

// PopFragment removes and returns the fragment at the front of the
// buffer, returning its memory to the read permit.
func (r *Reader) PopFragment() stream.Fragment {
	f := r.buf.PopFirst()
	r.rctx.Permit().Release(f.MemoryUsage())
	return f
}

func (r *Reader) pushFragment(f stream.Fragment) {
	r.buf.Push(f)
	r.rctx.Permit().Consume(f.MemoryUsage())
}

// NextPartition drains the remaining fragments of the current partition.
// The reader serves a single partition, so the buffer empties and the
// stream ends.
func (r *Reader) NextPartition() {
	for !r.buf.IsEmpty() {
		r.PopFragment()
	}
	r.endOfStream = true
	r.state = stateEndOfStream
}

// FastForwardTo is not supported on this reader; calling it is a
// programmer error.
func (r *Reader) FastForwardTo(position.Range) error {
	return errors.AssertionFailedf("FastForwardTo called on a cache partition reader")
}

// Close releases the reader's resources: the owned read context (if any)
// and the opened underlying reader are closed concurrently, and the
// snapshot reference is dropped. Close is idempotent and safe after
// partial reads and after errors.
func (r *Reader) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	ctx = r.annotate(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.rctx.closeUnderlying(gctx) })
	if r.ownsCtx {
		g.Go(func() error { return r.rctx.Close(gctx) })
	}
	err := g.Wait()
	r.snp.Unref()
	return err
}

// FillBuffer produces fragments into the reader's buffer until the stream
// ends, the buffer fills up, or the step quota is spent. Errors from the
// underlying source propagate; the reader remains closeable.
func (r *Reader) FillBuffer(ctx context.Context) error {
	if r.closed {
		return errors.AssertionFailedf("FillBuffer on closed reader")
	}
	ctx = r.annotate(ctx)
	r.steps = 0
	if r.state == stateBeforeStaticRow {
		r.snp.Touch()
		if r.schema.HasStaticColumns() {
			if err := r.processStaticRow(ctx); err != nil {
				return err
			}
		}
		if r.rangeIdx >= len(r.ranges) {
			r.finishReader(ctx)
			return nil
		}
		r.state = stateReadingFromCache
		r.snp.Region().RunInReadSection(func() {
			r.moveToRange(ctx, r.rangeIdx)
		})
	}
	log.VEventf(ctx, 3, "fill buffer, range=%d, lb=%v", r.rangeIdx, r.lowerBound)
	for !r.endOfStream && !r.buf.IsFull() && !r.needPreempt() {
		if err := r.doFillBuffer(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) doFillBuffer(ctx context.Context) error {
	if r.state == stateMoveToUnderlying {
		if r.underlying == nil {
			if err := r.ensureUnderlying(ctx); err != nil {
				return err
			}
		}
		r.state = stateReadingFromUnderlying
		r.popRangeStartsBeforeAllRows = r.lowerBound.IsBeforeAllRows() && !r.rctx.IsReversed()
		uub := r.upperBound
		if r.nextRowInRange {
			uub = position.Before(r.next.Position())
		}
		r.underlyingUpperBound = &uub
		if !r.rctx.PartitionExists() {
			log.VEventf(ctx, 3, "partition does not exist")
			if r.currentTomb.IsSet() {
				r.emitClosingRTC(ctx, r.lowerBound)
			}
			return r.readFromUnderlying(ctx)
		}
		if err := r.underlying.FastForwardTo(ctx, position.Range{Start: r.lowerBound, End: uub}); err != nil {
			return err
		}
		if r.currentTomb.IsSet() {
			mf, err := r.underlying.Peek(ctx)
			if err != nil {
				return err
			}
			// Avoid double-opening: unless the underlying continues with an
			// opening change exactly at lowerBound, close ours first.
			if mf == nil || mf.Kind != stream.KindRangeTombstoneChange ||
				!position.Equal(r.schema, mf.Pos, r.lowerBound) {
				r.emitClosingRTC(ctx, r.lowerBound)
			}
		}
		return r.readFromUnderlying(ctx)
	}
	if r.state == stateReadingFromUnderlying {
		return r.readFromUnderlying(ctx)
	}
	// stateReadingFromCache.
	r.snp.Region().RunInReadSection(func() {
		nextValid := r.next.IteratorsValid()
		log.VEventf(ctx, 3, "reading from cache, range=[%v, %v), valid=%t, rt=%v",
			r.lowerBound, r.upperBound, nextValid, r.currentTomb)
		// If there was eviction, and thus the range may no longer be
		// continuous, the cursor was invalidated.
		if !nextValid {
			adjacent := r.next.AdvanceTo(r.lowerBound)
			r.nextRowInRange = !r.afterCurrentRange(r.next.Position())
			if !adjacent && !r.next.Continuous() {
				r.lastRow.Clear()
				r.startReadingFromUnderlying(ctx)
				return
			}
		}
		r.next.MaybeRefresh()
		for r.state == stateReadingFromCache {
			r.copyFromCacheToBuffer(ctx)
			if r.needPreempt() || r.buf.IsFull() {
				break
			}
		}
	})
	return nil
}

func (r *Reader) ensureUnderlying(ctx context.Context) error {
	if r.underlying != nil {
		return nil
	}
	if err := r.rctx.EnsureUnderlying(ctx); err != nil {
		return err
	}
	r.underlying = r.rctx.Underlying()
	return nil
}

func (r *Reader) finishReader(ctx context.Context) {
	r.pushFragment(stream.PartitionEnd())
	r.endOfStream = true
	r.state = stateEndOfStream
	log.VEventf(ctx, 3, "eos")
}

func (r *Reader) processStaticRow(ctx context.Context) error {
	if r.snp.StaticRowContinuous() {
		r.rctx.Cache().OnRowHit()
		var sr base.StaticRow
		r.snp.Region().RunInReadSection(func() {
			sr = r.snp.StaticRow(r.rctx.DigestRequested())
		})
		if !sr.IsEmpty() {
			r.pushFragment(stream.StaticRowFragment(sr))
		}
		return nil
	}
	r.rctx.Cache().OnRowMiss()
	if err := r.ensureUnderlying(ctx); err != nil {
		return err
	}
	mf, err := r.underlying.Next(ctx)
	if err != nil {
		return err
	}
	if mf != nil {
		if mf.Kind != stream.KindStaticRow {
			return errors.AssertionFailedf(
				"underlying reader produced %v before the static row", mf.Kind)
		}
		if r.rctx.DigestRequested() {
			mf.Static.PrepareHash()
		}
		r.maybeAddStaticRowToCache(ctx, mf.Static)
		r.pushFragment(*mf)
	}
	r.maybeSetStaticRowContinuous(ctx)
	return nil
}

func (r *Reader) afterCurrentRange(p position.Position) bool {
	return position.Compare(r.schema, p, r.upperBound) >= 0
}

func (r *Reader) startReadingFromUnderlying(ctx context.Context) {
	log.VEventf(ctx, 3, "start reading from underlying, lb=%v", r.lowerBound)
	r.state = stateMoveToUnderlying
	r.next.Touch()
}

// emitClosingRTC closes the active range tombstone at pos.
func (r *Reader) emitClosingRTC(ctx context.Context, pos position.Position) {
	log.VEventf(ctx, 3, "emit rtc(%v, null)", pos)
	r.pushFragment(stream.RangeTombstoneChange(pos, base.Tombstone{}))
	r.currentTomb = base.Tombstone{}
	r.rctx.Cache().Tracker().OnRangeTombstoneRead()
}

// addRTCToBuffer emits a range tombstone change and advances lowerBound to
// its position.
func (r *Reader) addRTCToBuffer(ctx context.Context, pos position.Position, tomb base.Tombstone) {
	log.VEventf(ctx, 3, "emit rtc(%v, %v)", pos, tomb)
	r.hasRT = true
	r.lowerBound = pos
	r.pushFragment(stream.RangeTombstoneChange(pos, tomb))
	r.rctx.Cache().Tracker().OnRangeTombstoneRead()
}

// addClusteringRowToBuffer emits a clustering row. Maintains, also on
// error paths: no fragment with position >= lowerBound was pushed yet, and
// if lowerBound > the row position, the row was emitted.
func (r *Reader) addClusteringRowToBuffer(ctx context.Context, row base.Row) {
	log.VEventf(ctx, 3, "emit row(%q)", row.Key)
	newLowerBound := position.AfterKey(row.Key)
	r.pushFragment(stream.ClusteringRow(row))
	r.lowerBound = newLowerBound
	if row.Tomb.IsSet() {
		r.rctx.Cache().Tracker().OnRowTombstoneRead()
	}
}

// copyFromCacheToBuffer transfers one cursor step into the buffer.
func (r *Reader) copyFromCacheToBuffer(ctx context.Context) {
	r.steps++
	r.next.Touch()

	if r.next.RangeTombstone() != r.currentTomb {
		effUB := r.upperBound
		if r.nextRowInRange {
			effUB = position.Before(r.next.Position())
		}
		if !position.Equal(r.schema, r.lowerBound, effUB) {
			tomb := r.next.RangeTombstone()
			lb := r.lowerBound
			r.addRTCToBuffer(ctx, lb, tomb)
			r.currentTomb = tomb
			r.lowerBound = effUB
		}
	}

	// The row is added even when the buffer is full; this keeps the step
	// boundaries simple.
	if r.nextRowInRange {
		if tomb := r.next.RangeTombstoneForRow(); tomb != r.currentTomb {
			nlb := position.Before(r.next.Position())
			r.addRTCToBuffer(ctx, nlb, tomb)
			r.currentTomb = tomb
		}
		r.addCursorToBuffer(ctx)
		r.moveToNextEntry(ctx)
	} else {
		r.moveToNextRange(ctx)
	}
}

// addCursorToBuffer emits the cursor's row, or records a dummy visit.
func (r *Reader) addCursorToBuffer(ctx context.Context) {
	if !r.next.Dummy() {
		r.rctx.Cache().OnRowHit()
		row := r.next.Row()
		if r.rctx.DigestRequested() {
			row.PrepareHash()
		}
		r.addClusteringRowToBuffer(ctx, row)
		return
	}
	if position.Compare(r.schema, r.lowerBound, r.next.Position()) < 0 {
		r.lowerBound = r.next.Position()
	}
	r.rctx.Cache().Tracker().OnDummyRowHit()
}

func (r *Reader) moveToNextRange(ctx context.Context) {
	if r.currentTomb.IsSet() {
		log.VEventf(ctx, 3, "move to next range: emit rtc(%v, null)", r.upperBound)
		r.pushFragment(stream.RangeTombstoneChange(r.upperBound, base.Tombstone{}))
		r.currentTomb = base.Tombstone{}
		r.rctx.Cache().Tracker().OnRangeTombstoneRead()
	}
	next := r.rangeIdx + 1
	if next >= len(r.ranges) {
		r.rangeIdx = next
		r.finishReader(ctx)
	} else {
		r.moveToRange(ctx, next)
	}
}

func (r *Reader) moveToRange(ctx context.Context, idx int) {
	rng := r.ranges[idx]
	r.lastRow.Clear()
	r.lowerBound = rng.Start
	r.upperBound = rng.End
	r.rangeIdx = idx
	adjacent := r.next.AdvanceTo(r.lowerBound)
	r.nextRowInRange = !r.afterCurrentRange(r.next.Position())
	log.VEventf(ctx, 3, "move to range %d [%v, %v), next=%v", idx, r.lowerBound, r.upperBound, r.next.Position())
	if !adjacent && !r.next.Continuous() {
		// No dummy for singular ranges: a hit would otherwise cost three
		// entries (before, at and after the key).
		if !rng.Start.IsBeforeAllRows() && !rng.IsSingleRow(r.schema) {
			if r.canPopulate() {
				log.VEventf(ctx, 3, "insert dummy at %v", r.lowerBound)
				e, _, err := r.insertIntoLatest(partition.NewRowEntry(
					r.toTableDomain(r.lowerBound), nil, false, base.Tombstone{}))
				if err == nil {
					r.lastRow.Set(r.snp, e)
				}
			} else {
				r.rctx.Cache().OnMispopulate()
			}
		}
		r.startReadingFromUnderlying(ctx)
	}
}

// moveToNextEntry advances past the cursor's current entry. The cursor
// must be inside the range.
func (r *Reader) moveToNextEntry(ctx context.Context) {
	if position.NoClusteringRowBetween(r.schema, r.next.Position(), r.upperBound) {
		r.moveToNextRange(ctx)
		return
	}
	var newLastRow partition.RowWeakRef
	if e := r.next.Entry(); e != nil {
		newLastRow.Set(r.snp, e)
	}
	// In reverse mode the cursor may fall off the entries: there is no
	// dummy before all rows. The cursor's table position is then before all
	// rows, its query Position after all rows, and Continuous is still
	// correctly set.
	r.next.Next()
	r.lastRow = newLastRow
	r.nextRowInRange = !r.afterCurrentRange(r.next.Position())
	log.VEventf(ctx, 3, "next=%v, cont=%t, in_range=%t", r.next.Position(), r.next.Continuous(), r.nextRowInRange)
	if !r.next.Continuous() {
		r.startReadingFromUnderlying(ctx)
	} else {
		r.maybeDropLastEntry(ctx, r.next.RangeTombstone())
	}
}

func (r *Reader) readFromUnderlying(ctx context.Context) error {
	for r.state == stateReadingFromUnderlying && !r.buf.IsFull() && !r.needPreempt() {
		r.steps++
		mf, err := r.underlying.Next(ctx)
		if err != nil {
			return err
		}
		if mf != nil {
			r.rctx.Cache().OnRowMiss()
			r.offerFromUnderlying(ctx, *mf)
			continue
		}
		// Slice exhausted: stitch continuity and resume from cache.
		r.lowerBound = *r.underlyingUpperBound
		r.underlyingUpperBound = nil
		r.state = stateReadingFromCache
		r.snp.Region().RunInUpdateSection(func() {
			samePos := r.next.MaybeRefresh()
			log.VEventf(ctx, 3, "underlying done, in_range=%t, same=%t, next=%v",
				r.nextRowInRange, samePos, r.next.Position())
			if !samePos {
				r.rctx.Cache().OnMispopulate()
				r.nextRowInRange = !r.afterCurrentRange(r.next.Position())
				if !r.next.Continuous() {
					// The full range up to lowerBound was not populated;
					// continuity is broken.
					r.lastRow.Clear()
					r.startReadingFromUnderlying(ctx)
				}
				return
			}
			if r.nextRowInRange {
				r.maybeUpdateContinuity(ctx)
			} else {
				r.populateRangeTail(ctx)
				r.moveToNextRange(ctx)
			}
		})
		return nil
	}
	return nil
}

// populateRangeTail records that the interval up to the current range's
// upper bound contains no rows, when population is permitted.
func (r *Reader) populateRangeTail(ctx context.Context) {
	if !r.canPopulate() {
		r.rctx.Cache().OnMispopulate()
		return
	}
	rng := r.ranges[r.rangeIdx]
	if rng.IsSingleRow(r.schema) {
		// If range tombstones apply to the row, an empty entry cannot be
		// inserted: were those tombstones evicted by now, the entry would
		// miss its range tombstone information.
		if r.hasRT {
			return
		}
		e, inserted, err := r.insertIntoLatest(partition.NewRowEntry(
			position.AtKey(rng.SingletonKey()), &base.Row{Key: rng.SingletonKey()}, false, base.Tombstone{}))
		if err != nil || !inserted {
			return
		}
		// Preserves the continuity of the range the entry falls into, in
		// reverse read mode too.
		if succ := r.snp.Version().NextAfter(e.Position()); succ != nil {
			e.SetContinuous(succ.Continuous())
		}
		log.VEventf(ctx, 3, "inserted empty row at %v, cont=%t", e.Position(), e.Continuous())
		return
	}
	if !r.ensurePopulationLowerBound(ctx) {
		return
	}
	e, _, err := r.insertIntoLatest(partition.NewRowEntry(
		r.toTableDomain(r.upperBound), nil, false, base.Tombstone{}))
	if err != nil {
		return
	}
	if r.rctx.IsReversed() {
		anchor := r.lastRow.Entry()
		log.VEventf(ctx, 3, "set continuous(%v), rt=%v", r.lastRow.Position(), r.currentTomb)
		anchor.SetContinuous(true)
		anchor.SetRangeTombstone(r.currentTomb)
	} else {
		log.VEventf(ctx, 3, "set continuous(%v), rt=%v", e.Position(), r.currentTomb)
		e.SetContinuous(true)
		e.SetRangeTombstone(r.currentTomb)
	}
	r.maybeDropLastEntry(ctx, r.currentTomb)
}

func (r *Reader) offerFromUnderlying(ctx context.Context, mf stream.Fragment) {
	log.VEventf(ctx, 3, "offer from underlying: %v", mf)
	switch mf.Kind {
	case stream.KindClusteringRow:
		r.maybeAddRowToCache(ctx, mf.Row)
		row := mf.Row
		if r.rctx.DigestRequested() {
			row.PrepareHash()
		}
		r.addClusteringRowToBuffer(ctx, row)
	case stream.KindRangeTombstoneChange:
		if r.maybeAddRTCToCache(ctx, mf) {
			r.addRTCToBuffer(ctx, mf.Pos, mf.Tomb)
		}
	default:
		panic(errors.AssertionFailedf("unexpected fragment from underlying: %v", mf.Kind))
	}
}
