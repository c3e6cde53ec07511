// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"testing"

	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/stretchr/testify/require"
)

func newTestPartition(t *testing.T) *Partition {
	t.Helper()
	s := base.NewSchema("ks", "t", nil, false)
	return NewPartition(s, base.DecoratedKey{Key: []byte("pk")}, NewRegion(0), NewTracker(nil))
}

func insertRow(t *testing.T, v *Version, key string, continuous bool, rt base.Tombstone) *RowEntry {
	t.Helper()
	row := base.Row{Key: []byte(key), Cells: base.Cells{"c": []byte(key)}}
	e, inserted := v.Insert(NewRowEntry(position.AtKey([]byte(key)), &row, continuous, rt))
	require.True(t, inserted)
	return e
}

func insertDummy(t *testing.T, v *Version, pos position.Position, continuous bool, rt base.Tombstone) *RowEntry {
	t.Helper()
	e, inserted := v.Insert(NewRowEntry(pos, nil, continuous, rt))
	require.True(t, inserted)
	return e
}

func TestVersionOrderedLookups(t *testing.T) {
	p := newTestPartition(t)
	v := p.Read().Version()
	b := insertRow(t, v, "b", false, base.Tombstone{})
	d := insertRow(t, v, "d", false, base.Tombstone{})

	require.Equal(t, b, v.Get(position.AtKey([]byte("b"))))
	require.Nil(t, v.Get(position.AtKey([]byte("c"))))

	require.Equal(t, b, v.firstGE(position.BeforeKey([]byte("b"))))
	require.Equal(t, d, v.firstGE(position.AfterKey([]byte("b"))))
	require.Equal(t, d, v.NextAfter(position.AtKey([]byte("b"))))
	require.Equal(t, b, v.lastLE(position.AtKey([]byte("c"))))
	require.Equal(t, b, v.lastLT(position.AtKey([]byte("d"))))

	// The sentinel bounds every version from above.
	sentinel := v.firstGE(position.AfterAllRows())
	require.NotNil(t, sentinel)
	require.True(t, sentinel.IsSentinel())
	require.True(t, sentinel.Dummy())
}

func TestSnapshotVersionChain(t *testing.T) {
	p := newTestPartition(t)
	snp := p.Read()
	require.True(t, snp.AtLatestVersion())
	require.True(t, snp.AtOldestVersion())

	// A new version makes the old snapshot stale for population.
	p.AddVersion()
	require.False(t, snp.AtLatestVersion())
	require.True(t, snp.AtOldestVersion())

	snp2 := p.Read()
	require.True(t, snp2.AtLatestVersion())
	require.True(t, snp2.AtOldestVersion())
	require.Len(t, snp2.Versions(), 2)
}

func TestSnapshotStaticRowMerge(t *testing.T) {
	p := newTestPartition(t)
	old := p.Read().Version()
	old.ApplyStaticRow(base.StaticRow{Cells: base.Cells{"s1": []byte("old"), "s2": []byte("old")}})
	old.SetStaticRowContinuous(true)

	newer := p.AddVersion()
	newer.ApplyStaticRow(base.StaticRow{Cells: base.Cells{"s1": []byte("new")}})

	snp := p.Read()
	require.True(t, snp.StaticRowContinuous())
	sr := snp.StaticRow(false)
	require.Equal(t, []byte("new"), sr.Cells["s1"])
	require.Equal(t, []byte("old"), sr.Cells["s2"])

	withDigest := snp.StaticRow(true)
	require.NotZero(t, withDigest.Digest)
}

func TestSnapshotPartitionTombstone(t *testing.T) {
	p := newTestPartition(t)
	p.Read().Version().SetPartitionTombstone(base.Tombstone{Timestamp: 5, DeletionTime: 1})
	p.AddVersion().SetPartitionTombstone(base.Tombstone{Timestamp: 9, DeletionTime: 2})
	require.Equal(t, int64(9), p.Read().PartitionTombstone().Timestamp)
}

func TestRegionSections(t *testing.T) {
	r := NewRegion(0)
	gen := r.Generation()
	r.RunInReadSection(func() {})
	require.Equal(t, gen, r.Generation())
	r.RunInUpdateSection(func() {})
	require.NotEqual(t, gen, r.Generation())
	gen = r.Generation()
	r.InvalidateReferences()
	require.NotEqual(t, gen, r.Generation())
}

func TestRegionBudget(t *testing.T) {
	r := NewRegion(100)
	require.NoError(t, r.Alloc(60))
	err := r.Alloc(60)
	require.ErrorIs(t, err, ErrAllocFailed)
	r.Free(60)
	require.NoError(t, r.Alloc(60))
	require.Equal(t, int64(60), r.Used())
}

func TestTrackerEvictOldestOnly(t *testing.T) {
	p := newTestPartition(t)
	oldV := p.Read().Version()
	e := insertRow(t, oldV, "b", true, base.Tombstone{})
	p.Tracker().Insert(e)

	p.AddVersion()
	snp := p.Read()
	latest := snp.Version()
	e2 := insertRow(t, latest, "c", false, base.Tombstone{})
	p.Tracker().Insert(e2)

	// Entries in the latest (non-oldest) version are not evictable.
	require.Error(t, p.Tracker().Evict(p, e2))
	// Entries in the oldest version are.
	require.NoError(t, p.Tracker().Evict(p, e))
	require.Nil(t, oldV.Get(position.AtKey([]byte("b"))))
	// The sentinel is never evictable.
	require.Error(t, p.Tracker().Evict(p, oldV.Get(position.AfterAllRows())))
}

func TestEvictWeakensSuccessorContinuity(t *testing.T) {
	p := newTestPartition(t)
	snp := p.Read()
	v := snp.Version()
	b := insertRow(t, v, "b", true, base.Tombstone{})
	d := insertRow(t, v, "d", true, base.Tombstone{})
	p.Tracker().Insert(b)
	p.Tracker().Insert(d)

	gen := p.Region().Generation()
	require.NoError(t, snp.Evict(b))
	// The merged interval is no longer known complete in general; here both
	// halves were continuous under the same tombstone, so it stays.
	require.True(t, d.Continuous())
	require.NotEqual(t, gen, p.Region().Generation())

	c := insertRow(t, v, "c", false, base.Tombstone{})
	p.Tracker().Insert(c)
	require.NoError(t, snp.Evict(c))
	require.False(t, d.Continuous())
}

func TestWeakRefSurvivesAndFails(t *testing.T) {
	p := newTestPartition(t)
	snp := p.Read()
	v := snp.Version()
	b := insertRow(t, v, "b", false, base.Tombstone{})
	p.Tracker().Insert(b)

	var ref RowWeakRef
	ref.Set(snp, b)
	require.True(t, ref.Refresh(snp))
	require.True(t, ref.IsInLatestVersion(snp))

	// Invalidation alone is survivable: the entry is still there.
	p.Region().InvalidateReferences()
	require.True(t, ref.Refresh(snp))

	// Eviction is not.
	require.NoError(t, snp.Evict(b))
	require.False(t, ref.Refresh(snp))
	require.False(t, ref.IsSet())
}

func TestWeakRefResolvesAcrossVersions(t *testing.T) {
	p := newTestPartition(t)
	oldSnp := p.Read()
	b := insertRow(t, oldSnp.Version(), "b", false, base.Tombstone{})

	p.AddVersion()
	snp := p.Read()
	var ref RowWeakRef
	ref.Set(snp, b)
	p.Region().InvalidateReferences()
	require.True(t, ref.Refresh(snp))
	require.False(t, ref.IsInLatestVersion(snp))
}
