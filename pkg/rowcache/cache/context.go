// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rowcache/pkg/rowcache/base"
	"github.com/cockroachdb/rowcache/pkg/rowcache/position"
	"github.com/cockroachdb/rowcache/pkg/rowcache/stream"
	"github.com/cockroachdb/rowcache/pkg/util/quotapool"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
	"github.com/google/uuid"
)

// UnderlyingReader is the authoritative ordered fragment source for one
// partition, already positioned past the partition start. The first Next
// after opening yields the static row (possibly empty). FastForwardTo
// repositions the reader to a clustering slice; Next then yields the
// slice's clustering-row and range-tombstone-change fragments in query
// order, returning nil at slice exhaustion. Close must be idempotent.
type UnderlyingReader interface {
	FastForwardTo(ctx context.Context, rng position.Range) error
	Peek(ctx context.Context) (*stream.Fragment, error)
	Next(ctx context.Context) (*stream.Fragment, error)
	Close(ctx context.Context) error
}

// UnderlyingOpener lazily opens the underlying source for a partition. The
// returned flag reports whether the partition exists in the source at all.
type UnderlyingOpener func(ctx context.Context) (_ UnderlyingReader, partitionExists bool, _ error)

// Permit accounts buffered fragment memory against a shared pool. It never
// blocks: when the pool is exhausted the reader keeps making progress, the
// consumption the pool cannot cover is left unaccounted, and releases are
// capped at what was actually taken from the pool.
type Permit struct {
	pool *quotapool.IntPool

	mu struct {
		syncutil.Mutex
		acquired int64 // portion of consumption actually taken from the pool
	}
}

// NewPermit returns a permit drawing on pool; a nil pool disables
// accounting.
func NewPermit(pool *quotapool.IntPool) *Permit {
	return &Permit{pool: pool}
}

// Consume accounts n bytes of buffered memory.
func (p *Permit) Consume(n int64) {
	if p.pool == nil {
		return
	}
	if err := p.pool.TryAcquire(n); err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.acquired += n
}

// Release returns n bytes of buffered memory.
func (p *Permit) Release(n int64) {
	if p.pool == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.mu.acquired {
		n = p.mu.acquired
	}
	p.mu.acquired -= n
	if n > 0 {
		p.pool.Release(n)
	}
}

// ReadContextConfig configures a read context.
type ReadContextConfig struct {
	Cache  *RowCache
	Permit *Permit
	Key    base.DecoratedKey
	// Reversed selects reverse reads: the filter and the emitted stream are
	// in reversed clustering order.
	Reversed bool
	// DigestRequested asks for row hashes to be prepared before emission.
	DigestRequested bool
	// Phase is the cache phase the read was planned under.
	Phase uint64
	// Opener opens the underlying source on first use.
	Opener UnderlyingOpener
}

// ReadContext carries the per-read collaborators of a reader: cache
// handles, resource permit, read options and the lazily opened underlying
// source. A context may be owned by the reader or borrowed from the
// caller; whoever owns it must close it.
type ReadContext struct {
	cfg ReadContextConfig
	id  uuid.UUID

	mu struct {
		syncutil.Mutex
		underlying       UnderlyingReader
		partitionExists  bool
		opened           bool
		underlyingClosed bool
		closed           bool
	}
}

// NewReadContext returns a read context for one partition read.
func NewReadContext(cfg ReadContextConfig) *ReadContext {
	if cfg.Cache == nil {
		cfg.Cache = NewRowCache(nil)
	}
	if cfg.Permit == nil {
		cfg.Permit = NewPermit(nil)
	}
	return &ReadContext{cfg: cfg, id: uuid.New()}
}

// ID identifies the read in traces.
func (rc *ReadContext) ID() uuid.UUID { return rc.id }

// Cache returns the row cache handle.
func (rc *ReadContext) Cache() *RowCache { return rc.cfg.Cache }

// Permit returns the read's resource permit.
func (rc *ReadContext) Permit() *Permit { return rc.cfg.Permit }

// Key returns the partition key being read.
func (rc *ReadContext) Key() base.DecoratedKey { return rc.cfg.Key }

// IsReversed reports whether this is a reverse read.
func (rc *ReadContext) IsReversed() bool { return rc.cfg.Reversed }

// DigestRequested reports whether row hashes should be prepared.
func (rc *ReadContext) DigestRequested() bool { return rc.cfg.DigestRequested }

// Phase returns the cache phase the read was planned under.
func (rc *ReadContext) Phase() uint64 { return rc.cfg.Phase }

// EnsureUnderlying opens the underlying source if it is not open yet.
func (rc *ReadContext) EnsureUnderlying(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.mu.closed {
		return errors.AssertionFailedf("EnsureUnderlying on closed read context")
	}
	if rc.mu.opened {
		return nil
	}
	if rc.cfg.Opener == nil {
		return errors.AssertionFailedf("read context has no underlying opener")
	}
	r, exists, err := rc.cfg.Opener(ctx)
	if err != nil {
		return err
	}
	rc.mu.underlying = r
	rc.mu.partitionExists = exists
	rc.mu.opened = true
	return nil
}

// Underlying returns the opened underlying reader. EnsureUnderlying must
// have succeeded.
func (rc *ReadContext) Underlying() UnderlyingReader {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.mu.underlying
}

// PartitionExists reports whether the partition exists in the underlying
// source. Valid after EnsureUnderlying.
func (rc *ReadContext) PartitionExists() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.mu.partitionExists
}

// closeUnderlying closes the opened underlying reader exactly once.
func (rc *ReadContext) closeUnderlying(ctx context.Context) error {
	rc.mu.Lock()
	if !rc.mu.opened || rc.mu.underlyingClosed {
		rc.mu.Unlock()
		return nil
	}
	rc.mu.underlyingClosed = true
	r := rc.mu.underlying
	rc.mu.Unlock()
	return r.Close(ctx)
}

// Close releases the context's resources, closing the underlying reader if
// this context opened it. Safe to call more than once.
func (rc *ReadContext) Close(ctx context.Context) error {
	rc.mu.Lock()
	if rc.mu.closed {
		rc.mu.Unlock()
		return nil
	}
	rc.mu.closed = true
	rc.mu.Unlock()
	return rc.closeUnderlying(ctx)
}
