// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
)

// Cursor iterates a snapshot's merged versions in query order. It speaks
// the query domain outward (AdvanceTo targets and Position results) and the
// table domain toward storage.
//
// The cursor holds references into the region; they are valid only while
// the captured generation matches the region's. After any suspension the
// caller must check IteratorsValid and refresh.
//
// Continuity and interval tombstones are read from the covering entry of
// each version: in forward reads the first entry at or above the cursor's
// table position, in reverse reads the first entry strictly above it (an
// entry's flags describe the table-domain interval reaching down from it).
// A version chain obeys the rule that older versions' continuity is a
// subset of newer ones', so the merged flag is the disjunction across
// versions and the merged tombstone comes from the newest version claiming
// continuity.
type Cursor struct {
	qs       *base.Schema // query domain
	ts       *base.Schema // table domain
	snp      *Snapshot
	reversed bool

	gen      uint64
	valid    bool
	atEnd    bool
	tablePos position.Position
	// cur[i] is the entry exactly at tablePos in snp.Versions()[i], or nil.
	cur []*RowEntry
}

// NewCursor returns a cursor over snp. The query schema qs is the table
// schema for forward reads and its reversal for reverse reads.
func NewCursor(qs *base.Schema, snp *Snapshot, reversed bool) *Cursor {
	return &Cursor{
		qs:       qs,
		ts:       snp.Schema(),
		snp:      snp,
		reversed: reversed,
		cur:      make([]*RowEntry, len(snp.Versions())),
	}
}

func (c *Cursor) toTable(p position.Position) position.Position {
	if c.reversed {
		return p.Reversed()
	}
	return p
}

func (c *Cursor) toQuery(p position.Position) position.Position {
	if c.reversed {
		return p.Reversed()
	}
	return p
}

// fixTable positions the cursor at the nearest merged entry at or beyond
// the table-domain position t in query direction.
func (c *Cursor) fixTable(t position.Position) {
	var best *RowEntry
	for _, v := range c.snp.Versions() {
		var cand *RowEntry
		if c.reversed {
			cand = v.lastLE(t)
		} else {
			cand = v.firstGE(t)
		}
		if cand == nil {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		cmp := position.Compare(c.ts, cand.pos, best.pos)
		if (!c.reversed && cmp < 0) || (c.reversed && cmp > 0) {
			best = cand
		}
	}
	c.valid = true
	c.gen = c.snp.Region().Generation()
	if best == nil {
		c.setAtEnd()
		return
	}
	c.atEnd = false
	c.tablePos = best.pos
	for i, v := range c.snp.Versions() {
		c.cur[i] = v.get(c.tablePos)
	}
}

// setAtEnd parks the cursor past the last entry in query direction. The
// parked table position is the direction's end of the clustering space, so
// that a later refresh lands in the same parked state.
func (c *Cursor) setAtEnd() {
	c.atEnd = true
	if c.reversed {
		c.tablePos = position.BeforeAllRows()
	} else {
		c.tablePos = position.AfterAllRows()
	}
	for i := range c.cur {
		c.cur[i] = nil
	}
}

// AdvanceTo positions the cursor at the nearest entry at or beyond the
// query-domain position q. It returns true if the cursor landed with no
// gap relative to the target: either exactly at q, or at a position no
// clustering row can separate from q.
func (c *Cursor) AdvanceTo(q position.Position) (adjacent bool) {
	t := c.toTable(q)
	c.fixTable(t)
	if c.atEnd {
		return false
	}
	return position.Equal(c.ts, c.tablePos, t) ||
		position.NoClusteringRowBetween(c.ts, t, c.tablePos)
}

// Next advances to the next merged entry in query direction. Returns false
// when the cursor moves past the last entry; Position then reports
// after-all-rows in the query domain.
func (c *Cursor) Next() bool {
	if !c.valid {
		panic(errors.AssertionFailedf("Next on invalid cursor"))
	}
	var best *RowEntry
	for _, v := range c.snp.Versions() {
		var cand *RowEntry
		if c.reversed {
			cand = v.lastLT(c.tablePos)
		} else {
			cand = v.firstGT(c.tablePos)
		}
		if cand == nil {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		cmp := position.Compare(c.ts, cand.pos, best.pos)
		if (!c.reversed && cmp < 0) || (c.reversed && cmp > 0) {
			best = cand
		}
	}
	if best == nil {
		c.setAtEnd()
		return false
	}
	c.tablePos = best.pos
	for i, v := range c.snp.Versions() {
		c.cur[i] = v.get(c.tablePos)
	}
	return true
}

// Position returns the cursor's position in the query domain, or
// after-all-rows when the cursor ran off the entries.
func (c *Cursor) Position() position.Position {
	if c.atEnd {
		return position.AfterAllRows()
	}
	return c.toQuery(c.tablePos)
}

// TablePosition returns the cursor's position in the table domain.
func (c *Cursor) TablePosition() position.Position { return c.tablePos }

// coveringEntry returns the entry of v whose interval covers the query
// side below the cursor's position.
func (c *Cursor) coveringEntry(v *Version) *RowEntry {
	if c.reversed {
		return v.firstGT(c.tablePos)
	}
	return v.firstGE(c.tablePos)
}

// Continuous reports whether the interval between the previously emitted
// query position and the cursor is known to contain no rows.
func (c *Cursor) Continuous() bool {
	for _, v := range c.snp.Versions() {
		if e := c.coveringEntry(v); e != nil && e.continuous {
			return true
		}
	}
	return false
}

// RangeTombstone returns the tombstone covering the interval reaching up
// to the cursor in query order: the newest version claiming continuity
// there wins, else the newest version with any covering entry.
func (c *Cursor) RangeTombstone() base.Tombstone {
	var fallback base.Tombstone
	haveFallback := false
	for _, v := range c.snp.Versions() {
		e := c.coveringEntry(v)
		if e == nil {
			continue
		}
		if e.continuous {
			return e.rt
		}
		if !haveFallback {
			fallback = e.rt
			haveFallback = true
		}
	}
	return fallback
}

// RangeTombstoneForRow returns the tombstone applying to the row at the
// cursor itself, which may differ from the interval tombstone when the
// newest version holds the entry under a different deletion.
func (c *Cursor) RangeTombstoneForRow() base.Tombstone {
	for _, e := range c.cur {
		if e != nil {
			return e.rt
		}
	}
	return c.RangeTombstone()
}

// Dummy reports whether no visible version holds a real row at the cursor.
func (c *Cursor) Dummy() bool {
	for _, e := range c.cur {
		if e != nil && !e.dummy {
			return false
		}
	}
	return true
}

// Row returns the merged payload at the cursor, newest cells winning.
// Must not be called on a dummy position.
func (c *Cursor) Row() base.Row {
	var out base.Row
	first := true
	for i := len(c.cur) - 1; i >= 0; i-- {
		e := c.cur[i]
		if e == nil || e.dummy {
			continue
		}
		if first {
			out = e.row.Clone()
			first = false
			continue
		}
		for k, v := range e.row.Cells {
			if out.Cells == nil {
				out.Cells = make(base.Cells)
			}
			out.Cells[k] = append([]byte(nil), v...)
		}
		if e.row.Tomb.IsSet() && (!out.Tomb.IsSet() || e.row.Tomb.Timestamp > out.Tomb.Timestamp) {
			out.Tomb = e.row.Tomb
		}
		out.Digest = 0
	}
	if first {
		panic(errors.AssertionFailedf("Row on dummy cursor position %v", c.tablePos))
	}
	return out
}

// IteratorsValid reports whether the cursor's references survived the last
// region compaction.
func (c *Cursor) IteratorsValid() bool {
	return c.valid && c.gen == c.snp.Region().Generation()
}

// MaybeRefresh revalidates the cursor after a possible invalidation.
// Returns true if the cursor still points at the same position.
func (c *Cursor) MaybeRefresh() bool {
	if !c.valid {
		return false
	}
	if c.IteratorsValid() {
		return true
	}
	prev := c.tablePos
	wasAtEnd := c.atEnd
	c.fixTable(prev)
	return c.atEnd == wasAtEnd && position.Equal(c.ts, c.tablePos, prev)
}

// ForceValid revalidates the cursor at its current position. The caller
// guarantees the entries at that position were not disturbed.
func (c *Cursor) ForceValid() {
	c.fixTable(c.tablePos)
}

// Touch records LRU recency for the entries at the cursor.
func (c *Cursor) Touch() {
	for _, e := range c.cur {
		if e != nil {
			c.snp.Tracker().Touch(e)
		}
	}
}

// Entry returns the newest version's entry at the cursor position.
func (c *Cursor) Entry() *RowEntry {
	for _, e := range c.cur {
		if e != nil {
			return e
		}
	}
	return nil
}

// EntryInLatest returns the entry at the cursor in the snapshot's newest
// version, if present.
func (c *Cursor) EntryInLatest() *RowEntry {
	if len(c.cur) == 0 {
		return nil
	}
	return c.cur[0]
}

// EnsureEntryInLatest promotes the cursor's entry into the snapshot's
// newest version, inserting a copy that inherits the continuity and
// tombstone of the latest-version interval it splits. Returns the entry in
// the latest version and whether an insert happened.
func (c *Cursor) EnsureEntryInLatest() (_ *RowEntry, inserted bool, _ error) {
	if c.atEnd {
		return nil, false, errors.AssertionFailedf("EnsureEntryInLatest past the end")
	}
	latest := c.snp.Version()
	if e := c.cur[0]; e != nil {
		return e, false, nil
	}
	e := &RowEntry{pos: c.tablePos, dummy: c.Dummy()}
	if !e.dummy {
		e.row = c.Row()
	}
	if succ := latest.firstGT(c.tablePos); succ != nil {
		e.continuous = succ.continuous
		e.rt = succ.rt
	}
	if err := c.snp.Region().Alloc(e.MemoryUsage()); err != nil {
		return nil, false, err
	}
	insertedEntry, ok := latest.insert(e)
	if !ok {
		// Lost a race with another population at the same position.
		c.snp.Region().Free(e.MemoryUsage())
	} else {
		c.snp.Tracker().Insert(insertedEntry)
	}
	c.cur[0] = insertedEntry
	return insertedEntry, ok, nil
}
