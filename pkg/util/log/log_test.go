// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerbosity(t *testing.T) {
	prev := SetVerbosity(0)
	defer SetVerbosity(prev)

	require.False(t, V(1))
	SetVerbosity(3)
	require.True(t, V(1))
	require.True(t, V(3))
	require.False(t, V(4))
}

func TestSeverityPrefix(t *testing.T) {
	require.Equal(t, byte('I'), SeverityInfo.prefix())
	require.Equal(t, byte('W'), SeverityWarning.prefix())
	require.Equal(t, byte('E'), SeverityError.prefix())
	require.Equal(t, byte('F'), SeverityFatal.prefix())
}
