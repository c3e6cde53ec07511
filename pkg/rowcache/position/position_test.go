// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package position

import (
	"testing"

	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/stretchr/testify/require"
)

func testSchema() *base.Schema {
	return base.NewSchema("ks", "t", nil, false)
}

func TestPositionTotalOrder(t *testing.T) {
	s := testSchema()
	ordered := []Position{
		BeforeAllRows(),
		BeforeKey([]byte("a")),
		AtKey([]byte("a")),
		AfterKey([]byte("a")),
		BeforeKey([]byte("b")),
		AtKey([]byte("b")),
		AfterKey([]byte("b")),
		AfterAllRows(),
	}
	for i, a := range ordered {
		for j, b := range ordered {
			c := Compare(s, a, b)
			switch {
			case i < j:
				require.Negative(t, c, "%v vs %v", a, b)
			case i > j:
				require.Positive(t, c, "%v vs %v", a, b)
			default:
				require.Zero(t, c, "%v vs %v", a, b)
			}
		}
	}
}

func TestPositionReversedIsBijective(t *testing.T) {
	s := testSchema()
	rs := s.Reversed()
	positions := []Position{
		BeforeAllRows(),
		BeforeKey([]byte("a")),
		AtKey([]byte("a")),
		AfterKey([]byte("a")),
		AfterAllRows(),
	}
	for _, p := range positions {
		require.True(t, Equal(s, p, p.Reversed().Reversed()), "%v", p)
	}
	// Reversal inverts the order under the reversed schema.
	for i := 0; i < len(positions); i++ {
		for j := 0; j < len(positions); j++ {
			c := Compare(s, positions[i], positions[j])
			rc := Compare(rs, positions[i].Reversed(), positions[j].Reversed())
			require.Equal(t, c, -rc, "%v vs %v", positions[i], positions[j])
		}
	}
}

func TestPositionKinds(t *testing.T) {
	require.True(t, AtKey([]byte("k")).IsClusteringRow())
	require.False(t, BeforeKey([]byte("k")).IsClusteringRow())
	require.False(t, AfterKey([]byte("k")).IsClusteringRow())
	require.True(t, BeforeAllRows().IsBeforeAllRows())
	require.True(t, AfterAllRows().IsAfterAllRows())
	require.True(t, BeforeAllRows().Reversed().IsAfterAllRows())
}

func TestBefore(t *testing.T) {
	s := testSchema()
	require.True(t, Equal(s, Before(AtKey([]byte("k"))), BeforeKey([]byte("k"))))
	require.True(t, Equal(s, Before(AfterKey([]byte("k"))), BeforeKey([]byte("k"))))
	require.True(t, Equal(s, Before(BeforeKey([]byte("k"))), BeforeKey([]byte("k"))))
	require.True(t, Equal(s, Before(AfterAllRows()), AfterAllRows()))
}

func TestNoClusteringRowBetween(t *testing.T) {
	s := testSchema()
	require.True(t, NoClusteringRowBetween(s, AtKey([]byte("a")), AfterKey([]byte("a"))))
	require.True(t, NoClusteringRowBetween(s, AtKey([]byte("a")), BeforeKey([]byte("a"))))
	require.False(t, NoClusteringRowBetween(s, BeforeKey([]byte("a")), AfterKey([]byte("a"))),
		"the row itself lies between its bounds")
	require.False(t, NoClusteringRowBetween(s, AtKey([]byte("a")), AtKey([]byte("b"))))
	require.False(t, NoClusteringRowBetween(s, AtKey([]byte("a")), AfterAllRows()))
	require.False(t, NoClusteringRowBetween(s, BeforeAllRows(), AfterKey([]byte("a"))))
}

func TestRange(t *testing.T) {
	s := testSchema()
	r := SingleRow([]byte("k"))
	require.True(t, r.IsSingleRow(s))
	require.Equal(t, []byte("k"), r.SingletonKey())
	require.False(t, r.IsEmpty(s))
	require.True(t, r.Contains(s, AtKey([]byte("k"))))
	require.False(t, r.Contains(s, AfterKey([]byte("k"))))

	all := All()
	require.False(t, all.IsSingleRow(s))
	require.True(t, all.Contains(s, AtKey([]byte("zzz"))))

	empty := Range{Start: AfterKey([]byte("b")), End: BeforeKey([]byte("a"))}
	require.True(t, empty.IsEmpty(s))
}
