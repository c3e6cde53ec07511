// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
)

// Partition holds the cached state for one partition key: a chain of
// versions, newest first. New versions appear at the front when fresh
// writes land; eviction consumes entries from the oldest version only.
type Partition struct {
	schema  *base.Schema // table domain
	key     base.DecoratedKey
	region  *Region
	tracker *Tracker

	mu struct {
		syncutil.RWMutex
		versions []*Version // newest first, never empty
	}

	lastTouched atomic.Int64
}

// NewPartition returns a partition with a single empty version.
func NewPartition(
	s *base.Schema, key base.DecoratedKey, region *Region, tracker *Tracker,
) *Partition {
	p := &Partition{schema: s, key: key, region: region, tracker: tracker}
	p.mu.versions = []*Version{newVersion(s)}
	return p
}

// Schema returns the table-domain schema.
func (p *Partition) Schema() *base.Schema { return p.schema }

// Key returns the partition key.
func (p *Partition) Key() base.DecoratedKey { return p.key }

// Region returns the arena the partition's entries live in.
func (p *Partition) Region() *Region { return p.region }

// Tracker returns the eviction tracker.
func (p *Partition) Tracker() *Tracker { return p.tracker }

// AddVersion pushes a fresh newest version onto the chain and returns it.
func (p *Partition) AddVersion() *Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := newVersion(p.schema)
	p.mu.versions = append([]*Version{v}, p.mu.versions...)
	return v
}

func (p *Partition) latestVersion() *Version {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mu.versions[0]
}

func (p *Partition) oldestVersion() *Version {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mu.versions[len(p.mu.versions)-1]
}

// Read returns a refcounted snapshot pinning the current version chain.
func (p *Partition) Read() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snp := &Snapshot{p: p, versions: append([]*Version(nil), p.mu.versions...)}
	snp.refs.Store(1)
	return snp
}

// Snapshot is a refcounted view over a partition's version chain as it was
// when the snapshot was taken.
type Snapshot struct {
	p        *Partition
	versions []*Version // newest first
	refs     atomic.Int32
}

// Ref acquires an additional reference.
func (s *Snapshot) Ref() { s.refs.Add(1) }

// Unref releases a reference. Releasing more references than were taken
// panics; dropping the last one has no further effect.
func (s *Snapshot) Unref() {
	if s.refs.Add(-1) < 0 {
		panic(errors.AssertionFailedf("snapshot unreferenced below zero"))
	}
}

// Schema returns the table-domain schema.
func (s *Snapshot) Schema() *base.Schema { return s.p.schema }

// Region returns the partition's arena region.
func (s *Snapshot) Region() *Region { return s.p.region }

// Tracker returns the partition's eviction tracker.
func (s *Snapshot) Tracker() *Tracker { return s.p.tracker }

// Version returns the newest version visible to the snapshot. Populations
// must target this version, and only when AtLatestVersion.
func (s *Snapshot) Version() *Version { return s.versions[0] }

// Versions returns the visible version chain, newest first.
func (s *Snapshot) Versions() []*Version { return s.versions }

// AtLatestVersion reports whether the snapshot's newest version is still
// the partition's newest.
func (s *Snapshot) AtLatestVersion() bool {
	return s.versions[0] == s.p.latestVersion()
}

// AtOldestVersion reports whether the snapshot's oldest version is the
// partition's oldest.
func (s *Snapshot) AtOldestVersion() bool {
	return s.versions[len(s.versions)-1] == s.p.oldestVersion()
}

// Touch records read recency for the partition.
func (s *Snapshot) Touch() {
	s.p.lastTouched.Store(s.p.tracker.nextSeq())
}

// StaticRow returns the merged static row across visible versions. When
// digest is set, the row's hash is prepared before returning.
func (s *Snapshot) StaticRow(digest bool) base.StaticRow {
	var out base.StaticRow
	for i := len(s.versions) - 1; i >= 0; i-- {
		out.Apply(s.versions[i].StaticRow())
	}
	if digest {
		out.PrepareHash()
	}
	return out
}

// StaticRowContinuous reports whether any visible version knows the static
// row to be complete.
func (s *Snapshot) StaticRowContinuous() bool {
	for _, v := range s.versions {
		if v.StaticRowContinuous() {
			return true
		}
	}
	return false
}

// Evict removes an entry from the partition through the tracker, subject
// to the oldest-version-only rule.
func (s *Snapshot) Evict(e *RowEntry) error {
	return s.p.tracker.Evict(s.p, e)
}

// PartitionTombstone returns the newest partition tombstone across visible
// versions.
func (s *Snapshot) PartitionTombstone() base.Tombstone {
	var out base.Tombstone
	for _, v := range s.versions {
		if t := v.PartitionTombstone(); t.IsSet() && (!out.IsSet() || t.Timestamp > out.Timestamp) {
			out = t
		}
	}
	return out
}
