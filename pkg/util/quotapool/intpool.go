// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package quotapool provides an integer pool of resource units. Readers
// acquire quota to account for buffered fragment memory and return it as
// the caller drains the buffer.
package quotapool

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rowcache/pkg/util/syncutil"
)

// ErrClosed is returned by Acquire after the pool has been closed.
var ErrClosed = errors.New("quota pool closed")

// ErrNotEnoughQuota is returned by TryAcquire when the request cannot be
// satisfied without waiting.
var ErrNotEnoughQuota = errors.New("not enough quota")

// IntPool manages allocating integer units of quota to clients.
type IntPool struct {
	name string
	max  int64

	mu struct {
		syncutil.Mutex
		avail  int64
		closed bool
		// notify is closed and replaced whenever quota is returned, waking
		// any blocked acquirers.
		notify chan struct{}
	}
}

// NewIntPool creates a new IntPool with a maximum quota value.
func NewIntPool(name string, max int64) *IntPool {
	p := &IntPool{name: name, max: max}
	p.mu.avail = max
	p.mu.notify = make(chan struct{})
	return p
}

// Acquire acquires the desired quantity of quota, blocking until it is
// available or the context is canceled. Requests larger than the pool's
// capacity are capped to the capacity so that they can eventually succeed.
func (p *IntPool) Acquire(ctx context.Context, v int64) error {
	if v > p.max {
		v = p.max
	}
	for {
		p.mu.Lock()
		if p.mu.closed {
			p.mu.Unlock()
			return errors.Wrapf(ErrClosed, "%s", p.name)
		}
		if p.mu.avail >= v {
			p.mu.avail -= v
			p.mu.Unlock()
			return nil
		}
		ch := p.mu.notify
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// TryAcquire is like Acquire but returns ErrNotEnoughQuota instead of
// waiting.
func (p *IntPool) TryAcquire(v int64) error {
	if v > p.max {
		v = p.max
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return errors.Wrapf(ErrClosed, "%s", p.name)
	}
	if p.mu.avail < v {
		return ErrNotEnoughQuota
	}
	p.mu.avail -= v
	return nil
}

// Release returns quota to the pool.
func (p *IntPool) Release(v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.avail += v
	if p.mu.avail > p.max {
		p.mu.avail = p.max
	}
	close(p.mu.notify)
	p.mu.notify = make(chan struct{})
}

// ApproximateQuota reports approximately the amount of quota available in
// the pool.
func (p *IntPool) ApproximateQuota() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.avail
}

// Close closes the pool. Blocked and future acquisitions fail with
// ErrClosed. Safe to call more than once.
func (p *IntPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return
	}
	p.mu.closed = true
	close(p.mu.notify)
	p.mu.notify = make(chan struct{})
}
