// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cache implements the cache-coherent clustered-row reader: a
// per-partition streaming read that merges cached state with the
// authoritative underlying source, emits an ordered fragment stream, and
// populates the cache with what it observed on the way.
package cache

import (
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/partition"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
)

// RowCache carries the cache-global state a reader needs: the eviction
// tracker with its counters, and the population phase of each partition
// key. A key's phase advances whenever its cached state is discarded and
// repopulated from scratch; a read that started under an older phase must
// not populate, and such attempts are counted as mispopulations.
type RowCache struct {
	tracker *partition.Tracker

	mu struct {
		syncutil.Mutex
		phases map[string]uint64
	}
}

// NewRowCache returns a row cache using the given tracker; nil allocates a
// fresh one.
func NewRowCache(t *partition.Tracker) *RowCache {
	if t == nil {
		t = partition.NewTracker(nil)
	}
	c := &RowCache{tracker: t}
	c.mu.phases = make(map[string]uint64)
	return c
}

// Tracker returns the eviction tracker.
func (c *RowCache) Tracker() *partition.Tracker { return c.tracker }

// PhaseOf returns the current population phase for a partition key.
func (c *RowCache) PhaseOf(key base.DecoratedKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.phases[string(key.Key)]
}

// BumpPhase advances the population phase for a partition key,
// invalidating populations by reads already in flight.
func (c *RowCache) BumpPhase(key base.DecoratedKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.phases[string(key.Key)]++
	return c.mu.phases[string(key.Key)]
}

// OnRowHit counts a read served from cache.
func (c *RowCache) OnRowHit() { c.tracker.OnRowHit() }

// OnRowMiss counts a read that consulted the underlying source.
func (c *RowCache) OnRowMiss() { c.tracker.OnRowMiss() }

// OnMispopulate counts a population skipped due to staleness.
func (c *RowCache) OnMispopulate() { c.tracker.OnMispopulate() }

// OnStaticRowInsert counts a static row population.
func (c *RowCache) OnStaticRowInsert() { c.tracker.OnStaticRowInsert() }
