// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTombstone(t *testing.T) {
	var empty Tombstone
	require.False(t, empty.IsSet())
	require.False(t, empty.Covers(0))

	tomb := Tombstone{Timestamp: 10, DeletionTime: 100}
	require.True(t, tomb.IsSet())
	require.True(t, tomb.Covers(10))
	require.True(t, tomb.Covers(3))
	require.False(t, tomb.Covers(11))
}

func TestSchemaReversal(t *testing.T) {
	s := NewSchema("ks", "t", nil, true)
	require.True(t, s.HasStaticColumns())
	require.False(t, s.IsReversed())
	require.Negative(t, s.Compare([]byte("a"), []byte("b")))

	rs := s.Reversed()
	require.True(t, rs.IsReversed())
	require.Positive(t, rs.Compare([]byte("a"), []byte("b")))
	require.Same(t, s, rs.Reversed())
}

func TestCellsHashIsOrderIndependent(t *testing.T) {
	a := Cells{"c1": []byte("x"), "c2": []byte("y")}
	b := Cells{"c2": []byte("y"), "c1": []byte("x")}
	require.Equal(t, a.Hash(), b.Hash())
	c := Cells{"c1": []byte("x"), "c2": []byte("z")}
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestRowCloneIsDeep(t *testing.T) {
	r := Row{Key: []byte("k"), Cells: Cells{"c": []byte("v")}}
	c := r.Clone()
	c.Cells["c"][0] = 'w'
	require.Equal(t, []byte("v"), r.Cells["c"])
}

func TestStaticRowApply(t *testing.T) {
	var sr StaticRow
	require.True(t, sr.IsEmpty())
	sr.Apply(StaticRow{Cells: Cells{"s1": []byte("a")}})
	sr.Apply(StaticRow{Cells: Cells{"s1": []byte("b"), "s2": []byte("c")}})
	require.Equal(t, []byte("b"), sr.Cells["s1"])
	require.Equal(t, []byte("c"), sr.Cells["s2"])
	sr.PrepareHash()
	require.NotZero(t, sr.Digest)
}
