// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stream

// DefaultBufferSoftLimit is the buffered-fragment memory at which a filling
// reader yields back to the caller.
const DefaultBufferSoftLimit = 8 << 10 // 8 KiB

// Buffer is a FIFO of fragments maintained over a ring buffer. It tracks
// the approximate memory footprint of its contents; IsFull is a soft limit,
// a producer may still push past it to finish an in-progress step.
type Buffer struct {
	buf  []Fragment
	head int // the index of the front of the buffer
	tail int // the index of the first position after the end of the buffer

	// Distinguishes an empty buffer from one using all of its capacity.
	nonEmpty bool

	memory    int64
	softLimit int64
}

// NewBuffer returns a buffer with the given soft memory limit; zero means
// DefaultBufferSoftLimit.
func NewBuffer(softLimit int64) *Buffer {
	if softLimit == 0 {
		softLimit = DefaultBufferSoftLimit
	}
	return &Buffer{softLimit: softLimit}
}

// Len returns the number of buffered fragments.
func (b *Buffer) Len() int {
	if !b.nonEmpty {
		return 0
	}
	if b.head < b.tail {
		return b.tail - b.head
	} else if b.head == b.tail {
		return cap(b.buf)
	}
	return cap(b.buf) + b.tail - b.head
}

// IsEmpty reports whether the buffer holds no fragments.
func (b *Buffer) IsEmpty() bool { return !b.nonEmpty }

// IsFull reports whether the buffered memory is at or above the soft limit.
func (b *Buffer) IsFull() bool { return b.memory >= b.softLimit }

// MemoryUsage returns the approximate buffered memory.
func (b *Buffer) MemoryUsage() int64 { return b.memory }

func (b *Buffer) maybeGrow() {
	if b.Len() != cap(b.buf) {
		return
	}
	n := 2 * cap(b.buf)
	if n == 0 {
		n = 8
	}
	newBuf := make([]Fragment, n)
	if b.head < b.tail {
		copy(newBuf[:b.Len()], b.buf[b.head:b.tail])
	} else if b.nonEmpty {
		copy(newBuf[:cap(b.buf)-b.head], b.buf[b.head:])
		copy(newBuf[cap(b.buf)-b.head:b.Len()], b.buf[:b.tail])
	}
	b.head = 0
	b.tail = cap(b.buf)
	b.buf = newBuf
}

// Push adds a fragment to the end of the buffer.
func (b *Buffer) Push(f Fragment) {
	b.maybeGrow()
	b.buf[b.tail] = f
	b.tail = (b.tail + 1) % cap(b.buf)
	b.nonEmpty = true
	b.memory += f.MemoryUsage()
}

// PeekFirst returns the fragment at the front without removing it. The
// buffer must be non-empty.
func (b *Buffer) PeekFirst() Fragment {
	if !b.nonEmpty {
		panic("peeking into empty fragment buffer")
	}
	return b.buf[b.head]
}

// PopFirst removes and returns the fragment at the front. The buffer must
// be non-empty.
func (b *Buffer) PopFirst() Fragment {
	if !b.nonEmpty {
		panic("popping from empty fragment buffer")
	}
	f := b.buf[b.head]
	b.buf[b.head] = Fragment{}
	b.head = (b.head + 1) % cap(b.buf)
	if b.head == b.tail {
		b.nonEmpty = false
	}
	b.memory -= f.MemoryUsage()
	return f
}

// Clear drops all buffered fragments.
func (b *Buffer) Clear() {
	for i := range b.buf {
		b.buf[i] = Fragment{}
	}
	b.head = 0
	b.tail = 0
	b.nonEmpty = false
	b.memory = 0
}

// ClearToNextPartition drops buffered fragments of the current partition,
// keeping anything starting at the next partition-start. Used by
// next-partition requests.
func (b *Buffer) ClearToNextPartition() {
	for b.nonEmpty && b.PeekFirst().Kind != KindPartitionStart {
		b.PopFirst()
	}
}
