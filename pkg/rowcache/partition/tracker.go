// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"container/list"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the tracker's counters.
type Metrics struct {
	RowHits             prometheus.Counter
	RowMisses           prometheus.Counter
	Mispopulations      prometheus.Counter
	StaticRowInserts    prometheus.Counter
	DummyRowHits        prometheus.Counter
	RangeTombstoneReads prometheus.Counter
	RowTombstoneReads   prometheus.Counter
	Evictions           prometheus.Counter
}

// NewMetrics returns an unregistered metrics set.
func NewMetrics() *Metrics {
	c := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rowcache", Name: name, Help: help,
		})
	}
	return &Metrics{
		RowHits:             c("row_hits", "Reads served from cache."),
		RowMisses:           c("row_misses", "Reads that went to the underlying source."),
		Mispopulations:      c("mispopulations", "Populations skipped due to staleness."),
		StaticRowInserts:    c("static_row_inserts", "Static rows inserted into cache."),
		DummyRowHits:        c("dummy_row_hits", "Cursor visits to dummy entries."),
		RangeTombstoneReads: c("range_tombstone_reads", "Range tombstone changes emitted."),
		RowTombstoneReads:   c("row_tombstone_reads", "Rows emitted carrying a row tombstone."),
		Evictions:           c("evictions", "Entries evicted from cache."),
	}
}

// Register registers all counters with the given registerer.
func (m *Metrics) Register(r prometheus.Registerer) {
	r.MustRegister(m.RowHits, m.RowMisses, m.Mispopulations, m.StaticRowInserts,
		m.DummyRowHits, m.RangeTombstoneReads, m.RowTombstoneReads, m.Evictions)
}

// Tracker maintains the LRU over cached row entries and the cache
// counters. It does not decide when to evict; callers drive eviction and
// the tracker enforces that it is legal.
type Tracker struct {
	mu struct {
		syncutil.Mutex
		lru *list.List // of *RowEntry, most recent at front
		seq int64
	}
	metrics *Metrics
}

// NewTracker returns a tracker using the given metrics; nil allocates a
// fresh unregistered set.
func NewTracker(m *Metrics) *Tracker {
	if m == nil {
		m = NewMetrics()
	}
	t := &Tracker{metrics: m}
	t.mu.lru = list.New()
	return t
}

// Metrics returns the tracker's counters.
func (t *Tracker) Metrics() *Metrics { return t.metrics }

// Insert registers a newly populated entry with the LRU. Sentinels are not
// tracked.
func (t *Tracker) Insert(e *RowEntry) {
	if e.IsSentinel() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.lruElem == nil {
		e.lruElem = t.mu.lru.PushFront(e)
	}
}

// Touch moves an entry to the front of the LRU.
func (t *Tracker) Touch(e *RowEntry) {
	if e == nil || e.lruElem == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.lru.MoveToFront(e.lruElem)
}

// remove unlinks an entry from the LRU.
func (t *Tracker) remove(e *RowEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.lruElem != nil {
		t.mu.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
}

// nextSeq returns a monotonically increasing recency stamp.
func (t *Tracker) nextSeq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.seq++
	return t.mu.seq
}

// Evict removes e from cache. Only entries in the partition's oldest
// version may be evicted, preserving the continuity non-overlapping rule
// across versions. The successor entry's continuity is weakened so that the
// logical contents of the partition never grow: the merged interval is
// complete only if both halves were complete under the same tombstone.
//
// All references into the region are invalidated.
func (t *Tracker) Evict(p *Partition, e *RowEntry) error {
	if e.IsSentinel() {
		return errors.AssertionFailedf("cannot evict the after-all-rows bound entry")
	}
	if e.evicted {
		return nil
	}
	if e.version != p.oldestVersion() {
		return errors.AssertionFailedf("eviction must target the oldest version")
	}
	if succ := e.version.firstGT(e.pos); succ != nil {
		succ.continuous = succ.continuous && e.continuous && succ.rt == e.rt
	}
	e.version.remove(e)
	t.remove(e)
	e.evicted = true
	p.region.Free(e.MemoryUsage())
	t.metrics.Evictions.Inc()
	p.region.InvalidateReferences()
	return nil
}

// OnRowHit counts a read served from cache.
func (t *Tracker) OnRowHit() { t.metrics.RowHits.Inc() }

// OnRowMiss counts a read that had to consult the underlying source.
func (t *Tracker) OnRowMiss() { t.metrics.RowMisses.Inc() }

// OnMispopulate counts a population skipped due to staleness.
func (t *Tracker) OnMispopulate() { t.metrics.Mispopulations.Inc() }

// OnStaticRowInsert counts a static row population.
func (t *Tracker) OnStaticRowInsert() { t.metrics.StaticRowInserts.Inc() }

// OnDummyRowHit counts a cursor visit to a dummy entry.
func (t *Tracker) OnDummyRowHit() { t.metrics.DummyRowHits.Inc() }

// OnRangeTombstoneRead counts an emitted range tombstone change.
func (t *Tracker) OnRangeTombstoneRead() { t.metrics.RangeTombstoneReads.Inc() }

// OnRowTombstoneRead counts an emitted row carrying a row tombstone.
func (t *Tracker) OnRowTombstoneRead() { t.metrics.RowTombstoneReads.Inc() }
