// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package partition implements the cached state of a single partition: the
// versioned row-entry store, refcounted snapshots over it, the arena region
// entries live in, the LRU eviction tracker, and the cursor used to stream
// merged entries out of a snapshot.
package partition

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
	"github.com/dustin/go-humanize"
)

// ErrAllocFailed is returned when an allocation would exceed the region
// budget. Populations treat this as non-fatal: the read proceeds from the
// underlying source and the cache insert is skipped.
var ErrAllocFailed = errors.New("region allocation failed")

// Region is the arena all entries of a partition are allocated in.
//
// Access is structured into read sections and update sections. No
// suspension is permitted inside a section. The region may be compacted
// when an update section exits, which invalidates all references held into
// it: cursors and weak references carry the region generation and must be
// refreshed after any suspension point.
type Region struct {
	mu  syncutil.Mutex
	gen atomic.Uint64

	budget int64 // 0 means unlimited
	used   atomic.Int64
}

// NewRegion returns a region with the given allocation budget in bytes.
// A zero budget disables accounting failures.
func NewRegion(budget int64) *Region {
	return &Region{budget: budget}
}

// Generation returns the current reference generation. References captured
// under an older generation are invalid.
func (r *Region) Generation() uint64 { return r.gen.Load() }

// InvalidateReferences invalidates all outstanding references into the
// region. Used after evictions and after abandoning partial work on
// allocation failure.
func (r *Region) InvalidateReferences() { r.gen.Add(1) }

// Alloc accounts n bytes against the region budget.
func (r *Region) Alloc(n int64) error {
	if r.budget > 0 && r.used.Load()+n > r.budget {
		return errors.Wrapf(ErrAllocFailed, "%d used of %d", r.used.Load(), r.budget)
	}
	r.used.Add(n)
	return nil
}

// Free returns n bytes to the region budget.
func (r *Region) Free(n int64) { r.used.Add(-n) }

// Used returns the bytes currently accounted.
func (r *Region) Used() int64 { return r.used.Load() }

// RunInReadSection runs fn holding the region for reading. References into
// the region stay valid for the duration of fn.
func (r *Region) RunInReadSection(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// RunInUpdateSection runs fn holding the region for mutation. The region
// may be compacted at section exit; all references into it are invalidated.
func (r *Region) RunInUpdateSection(fn func()) {
	r.mu.Lock()
	defer func() {
		r.gen.Add(1)
		r.mu.Unlock()
	}()
	fn()
}

// SafeFormat implements redact.SafeFormatter.
func (r *Region) SafeFormat(w redact.SafePrinter, _ rune) {
	if r.budget > 0 {
		w.Printf("region{%s/%s}", redact.SafeString(humanize.IBytes(uint64(r.Used()))),
			redact.SafeString(humanize.IBytes(uint64(r.budget))))
		return
	}
	w.Printf("region{%s}", redact.SafeString(humanize.IBytes(uint64(r.Used()))))
}

// String implements fmt.Stringer.
func (r *Region) String() string { return redact.StringWithoutMarkers(r) }
