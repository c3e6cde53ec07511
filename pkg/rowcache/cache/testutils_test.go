// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/partition"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/cockroachdb/rowcache/pkg/rowcache/stream"
	"github.com/stretchr/testify/require"
)

// rtSpan is a range tombstone [Start, End) in query order.
type rtSpan struct {
	start position.Position
	end   position.Position
	tomb  base.Tombstone
}

// fakeSource is a scripted underlying reader: a set of rows and range
// tombstones in query order, sliced on demand by FastForwardTo.
type fakeSource struct {
	s      *base.Schema // query domain
	exists bool
	static *base.StaticRow
	rows   []base.Row // query order
	spans  []rtSpan   // query order, non-overlapping, non-adjacent

	slice        []stream.Fragment
	idx          int
	staticServed bool
	ffwdCalls    int
	closeCalls   int
	nextErr      error
}

func (f *fakeSource) spanAt(p position.Position) *rtSpan {
	for i := range f.spans {
		sp := &f.spans[i]
		if position.Compare(f.s, sp.start, p) <= 0 && position.Compare(f.s, p, sp.end) < 0 {
			return sp
		}
	}
	return nil
}

func (f *fakeSource) sliceFragments(rng position.Range) []stream.Fragment {
	var out []stream.Fragment
	if sp := f.spanAt(rng.Start); sp != nil {
		out = append(out, stream.RangeTombstoneChange(rng.Start, sp.tomb))
	}
	type event struct {
		pos  position.Position
		frag stream.Fragment
	}
	var events []event
	inRange := func(p position.Position) bool {
		return position.Compare(f.s, rng.Start, p) < 0 && position.Compare(f.s, p, rng.End) < 0
	}
	for _, sp := range f.spans {
		if inRange(sp.start) {
			events = append(events, event{sp.start, stream.RangeTombstoneChange(sp.start, sp.tomb)})
		}
		if inRange(sp.end) {
			events = append(events, event{sp.end, stream.RangeTombstoneChange(sp.end, base.Tombstone{})})
		}
	}
	for _, row := range f.rows {
		p := position.AtKey(row.Key)
		if position.Compare(f.s, rng.Start, p) <= 0 && position.Compare(f.s, p, rng.End) < 0 {
			events = append(events, event{p, stream.ClusteringRow(row.Clone())})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return position.Compare(f.s, events[i].pos, events[j].pos) < 0
	})
	active := f.spanAt(rng.Start) != nil
	for _, ev := range events {
		if ev.frag.Kind == stream.KindRangeTombstoneChange {
			active = ev.frag.Tomb.IsSet()
		}
		out = append(out, ev.frag)
	}
	if active {
		out = append(out, stream.RangeTombstoneChange(rng.End, base.Tombstone{}))
	}
	return out
}

func (f *fakeSource) FastForwardTo(_ context.Context, rng position.Range) error {
	f.ffwdCalls++
	f.slice = f.sliceFragments(rng)
	f.idx = 0
	return nil
}

func (f *fakeSource) Peek(context.Context) (*stream.Fragment, error) {
	if !f.exists || f.idx >= len(f.slice) {
		return nil, nil
	}
	return &f.slice[f.idx], nil
}

func (f *fakeSource) Next(context.Context) (*stream.Fragment, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	if !f.exists {
		return nil, nil
	}
	if f.ffwdCalls == 0 && !f.staticServed {
		f.staticServed = true
		var sr base.StaticRow
		if f.static != nil {
			sr = *f.static
		}
		fr := stream.StaticRowFragment(sr)
		return &fr, nil
	}
	if f.idx >= len(f.slice) {
		return nil, nil
	}
	fr := f.slice[f.idx]
	f.idx++
	return &fr, nil
}

func (f *fakeSource) Close(context.Context) error {
	f.closeCalls++
	return nil
}

var _ UnderlyingReader = (*fakeSource)(nil)

// env bundles the pieces of a reader test: one partition, its cache
// handles, and a scripted underlying source.
type env struct {
	ts      *base.Schema // table domain
	part    *partition.Partition
	cache   *RowCache
	metrics *partition.Metrics
	src     *fakeSource
	opens   int
	digest  bool
}

func newEnv(t *testing.T, hasStatic bool, regionBudget int64) *env {
	t.Helper()
	ts := base.NewSchema("ks", "t", nil, hasStatic)
	tracker := partition.NewTracker(nil)
	e := &env{
		ts:      ts,
		cache:   NewRowCache(tracker),
		metrics: tracker.Metrics(),
	}
	e.part = partition.NewPartition(
		ts, base.DecoratedKey{Token: 1, Key: []byte("pk")},
		partition.NewRegion(regionBudget), tracker)
	e.src = &fakeSource{exists: true}
	return e
}

func (e *env) key() base.DecoratedKey { return e.part.Key() }

// newReader builds a reader with an owned read context over a fresh
// snapshot.
func (e *env) newReader(ranges []position.Range, reversed bool) *Reader {
	qs := e.ts
	if reversed {
		qs = e.ts.Reversed()
	}
	e.src.s = qs
	rctx := NewReadContext(ReadContextConfig{
		Cache:           e.cache,
		Key:             e.key(),
		Reversed:        reversed,
		DigestRequested: e.digest,
		Phase:           e.cache.PhaseOf(e.key()),
		Opener: func(context.Context) (UnderlyingReader, bool, error) {
			e.opens++
			return e.src, e.src.exists, nil
		},
	})
	return NewReaderOwningContext(qs, e.key(), ranges, rctx, e.part.Read())
}

// drain runs the reader to end of stream and returns the full fragment
// stream.
func drain(t *testing.T, r *Reader) []stream.Fragment {
	t.Helper()
	ctx := context.Background()
	var out []stream.Fragment
	for !r.EndOfStream() {
		require.NoError(t, r.FillBuffer(ctx))
		for !r.IsBufferEmpty() {
			out = append(out, r.PopFragment())
		}
	}
	for !r.IsBufferEmpty() {
		out = append(out, r.PopFragment())
	}
	return out
}

// fmtFrags renders a stream compactly for comparison:
// ps, sr, row(k), rtc(before(k), 10), pe.
func fmtFrags(frags []stream.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		switch f.Kind {
		case stream.KindPartitionStart:
			out[i] = "ps"
		case stream.KindStaticRow:
			out[i] = "sr"
		case stream.KindClusteringRow:
			out[i] = fmt.Sprintf("row(%s)", f.Row.Key)
		case stream.KindRangeTombstoneChange:
			out[i] = fmt.Sprintf("rtc(%s, %d)", fmtPos(f.Pos), f.Tomb.Timestamp)
		case stream.KindPartitionEnd:
			out[i] = "pe"
		}
	}
	return out
}

func fmtPos(p position.Position) string {
	s := p.String()
	return strings.ReplaceAll(s, "\"", "")
}

// validateStream checks the structural stream invariants: exactly one
// partition start and end, monotonic positions, and balanced tombstone
// changes with at most one deletion open at a time.
func validateStream(t *testing.T, qs *base.Schema, frags []stream.Fragment) {
	t.Helper()
	require.NotEmpty(t, frags)
	require.Equal(t, stream.KindPartitionStart, frags[0].Kind)
	require.Equal(t, stream.KindPartitionEnd, frags[len(frags)-1].Kind)

	var lastPos *position.Position
	var lastRowPos *position.Position
	active := false
	for i, f := range frags[1 : len(frags)-1] {
		switch f.Kind {
		case stream.KindStaticRow:
			require.Zero(t, i, "static row must directly follow the partition start")
		case stream.KindClusteringRow:
			p := f.Position()
			if lastRowPos != nil {
				require.Positive(t, position.Compare(qs, p, *lastRowPos),
					"row positions must be strictly increasing")
			}
			if lastPos != nil {
				require.GreaterOrEqual(t, position.Compare(qs, p, *lastPos), 0)
			}
			lastRowPos = &p
			lastPos = &p
		case stream.KindRangeTombstoneChange:
			p := f.Position()
			if lastPos != nil {
				require.GreaterOrEqual(t, position.Compare(qs, p, *lastPos), 0)
			}
			lastPos = &p
			active = f.Tomb.IsSet()
		default:
			t.Fatalf("unexpected fragment kind %v inside the partition", f.Kind)
		}
	}
	require.False(t, active, "every opened range tombstone must be closed by partition end")
}

// primeRow inserts a clustering row into the snapshot's latest version.
func primeRow(
	t *testing.T, p *partition.Partition, key string, continuous bool, rt base.Tombstone,
) *partition.RowEntry {
	t.Helper()
	snp := p.Read()
	defer snp.Unref()
	row := base.Row{Key: []byte(key), Cells: base.Cells{"c": []byte("cached-" + key)}}
	e, inserted := snp.Version().Insert(
		partition.NewRowEntry(position.AtKey([]byte(key)), &row, continuous, rt))
	require.True(t, inserted)
	p.Tracker().Insert(e)
	return e
}

// primeDummy inserts a dummy entry into the snapshot's latest version.
func primeDummy(
	t *testing.T, p *partition.Partition, pos position.Position, continuous bool, rt base.Tombstone,
) *partition.RowEntry {
	t.Helper()
	snp := p.Read()
	defer snp.Unref()
	e, inserted := snp.Version().Insert(partition.NewRowEntry(pos, nil, continuous, rt))
	require.True(t, inserted)
	p.Tracker().Insert(e)
	return e
}

// primeSentinelContinuous marks the interval up to the after-all-rows
// bound continuous.
func primeSentinelContinuous(t *testing.T, p *partition.Partition, rt base.Tombstone) {
	t.Helper()
	snp := p.Read()
	defer snp.Unref()
	sentinel := snp.Version().Get(position.AfterAllRows())
	require.NotNil(t, sentinel)
	sentinel.SetContinuous(true)
	sentinel.SetRangeTombstone(rt)
}

func rangeOf(start, end position.Position) []position.Range {
	return []position.Range{{Start: start, End: end}}
}
