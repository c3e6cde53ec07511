// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stream

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/stretchr/testify/require"
)

func TestBufferFIFO(t *testing.T) {
	b := NewBuffer(0)
	require.True(t, b.IsEmpty())
	var want []string
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		b.Push(ClusteringRow(base.Row{Key: key}))
		want = append(want, string(key))
	}
	require.Equal(t, 100, b.Len())
	for _, w := range want {
		f := b.PopFirst()
		require.Equal(t, KindClusteringRow, f.Kind)
		require.Equal(t, w, string(f.Row.Key))
	}
	require.True(t, b.IsEmpty())
	require.Zero(t, b.MemoryUsage())
}

func TestBufferInterleavedPushPop(t *testing.T) {
	b := NewBuffer(0)
	next := 0
	popped := 0
	for round := 0; round < 20; round++ {
		for i := 0; i < 7; i++ {
			b.Push(ClusteringRow(base.Row{Key: []byte(fmt.Sprintf("k%04d", next))}))
			next++
		}
		for i := 0; i < 5; i++ {
			f := b.PopFirst()
			require.Equal(t, fmt.Sprintf("k%04d", popped), string(f.Row.Key))
			popped++
		}
	}
	require.Equal(t, next-popped, b.Len())
}

func TestBufferSoftLimit(t *testing.T) {
	b := NewBuffer(256)
	require.False(t, b.IsFull())
	for !b.IsFull() {
		b.Push(ClusteringRow(base.Row{Key: []byte("k"), Cells: base.Cells{"c": make([]byte, 64)}}))
	}
	require.GreaterOrEqual(t, b.MemoryUsage(), int64(256))
	for !b.IsEmpty() {
		b.PopFirst()
	}
	require.False(t, b.IsFull())
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(0)
	b.Push(PartitionStart(base.DecoratedKey{Key: []byte("p")}, base.Tombstone{}))
	b.Push(PartitionEnd())
	b.Clear()
	require.True(t, b.IsEmpty())
	require.Zero(t, b.MemoryUsage())
	b.Push(PartitionEnd())
	require.Equal(t, 1, b.Len())
}

func TestFragmentPositions(t *testing.T) {
	s := base.NewSchema("ks", "t", nil, false)
	row := ClusteringRow(base.Row{Key: []byte("k")})
	require.True(t, position.Equal(s, position.AtKey([]byte("k")), row.Position()))

	rtc := RangeTombstoneChange(position.BeforeKey([]byte("k")), base.Tombstone{Timestamp: 10})
	require.True(t, position.Equal(s, position.BeforeKey([]byte("k")), rtc.Position()))
	require.True(t, rtc.IsOpening())

	closing := RangeTombstoneChange(position.AfterKey([]byte("k")), base.Tombstone{})
	require.False(t, closing.IsOpening())

	require.True(t, PartitionEnd().Position().IsAfterAllRows())
	require.True(t, PartitionStart(base.DecoratedKey{}, base.Tombstone{}).Position().IsBeforeAllRows())
}
