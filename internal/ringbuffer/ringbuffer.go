// Package ringbuffer provides a lock-free single-producer, single-consumer
// ring buffer for streaming audio samples between goroutines.
package ringbuffer

import "sync/atomic"

// cacheLine is the assumed size of a CPU cache line. The two cursors live on
// separate lines so the producer and consumer do not false-share.
const cacheLine = 64

// Ring is a fixed-capacity circular buffer safe for exactly one writer
// goroutine and one reader goroutine, with no locks.
//
// One slot is always kept empty to tell full from empty, so a Ring with
// capacity C holds at most C-1 elements. The capacity is a power of two and
// index wraparound is a mask.
//
// The writer publishes data by storing writePos after copying; the reader
// loads writePos before copying out. The same pairing holds in reverse for
// readPos. Go's sync/atomic operations are sequentially consistent, which is
// strictly stronger than the acquire/release pairing this needs.
type Ring[T any] struct {
	writePos atomic.Uint64
	_        [cacheLine - 8]byte
	readPos  atomic.Uint64
	_        [cacheLine - 8]byte

	buf  []T
	mask uint64
}

// New creates a ring with the given capacity rounded up to the next power
// of two. The minimum capacity is 2.
func New[T any](capacity int) *Ring[T] {
	size := 2
	for size < capacity {
		size <<= 1
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the number of slots in the ring. At most Cap()-1 elements can
// be stored at once.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// TryWrite stores a single item. It returns false without blocking or
// overwriting if the ring is full. Producer only.
func (r *Ring[T]) TryWrite(item T) bool {
	w := r.writePos.Load()
	next := (w + 1) & r.mask
	if next == r.readPos.Load() {
		return false
	}
	r.buf[w] = item
	r.writePos.Store(next)
	return true
}

// WriteBulk writes as many items as fit and returns the number written.
// Producer only.
func (r *Ring[T]) WriteBulk(items []T) int {
	w := r.writePos.Load()
	rd := r.readPos.Load()

	free := (rd - w - 1) & r.mask
	n := uint64(len(items))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	// At most two contiguous copies: up to the end of buf, then from 0.
	first := uint64(len(r.buf)) - w
	if first >= n {
		copy(r.buf[w:w+n], items[:n])
	} else {
		copy(r.buf[w:], items[:first])
		copy(r.buf[:n-first], items[first:n])
	}

	r.writePos.Store((w + n) & r.mask)
	return int(n)
}

// TryRead removes and returns the oldest item. ok is false if the ring is
// empty. Consumer only.
func (r *Ring[T]) TryRead() (item T, ok bool) {
	rd := r.readPos.Load()
	if rd == r.writePos.Load() {
		return item, false
	}
	item = r.buf[rd]
	r.readPos.Store((rd + 1) & r.mask)
	return item, true
}

// ReadBulk moves up to len(dst) items into dst and returns the number read.
// Consumer only.
func (r *Ring[T]) ReadBulk(dst []T) int {
	rd := r.readPos.Load()
	w := r.writePos.Load()

	n := r.copyOut(dst, rd, (w-rd)&r.mask)
	if n == 0 {
		return 0
	}
	r.readPos.Store((rd + uint64(n)) & r.mask)
	return n
}

// PeekBulk copies up to len(dst) items starting offset elements past the
// read cursor without consuming them. Consumer only.
func (r *Ring[T]) PeekBulk(dst []T, offset int) int {
	if offset < 0 {
		return 0
	}
	rd := r.readPos.Load()
	w := r.writePos.Load()

	available := (w - rd) & r.mask
	off := uint64(offset)
	if off >= available {
		return 0
	}
	return r.copyOut(dst, (rd+off)&r.mask, available-off)
}

func (r *Ring[T]) copyOut(dst []T, from, available uint64) int {
	n := uint64(len(dst))
	if n > available {
		n = available
	}
	if n == 0 {
		return 0
	}

	first := uint64(len(r.buf)) - from
	if first >= n {
		copy(dst[:n], r.buf[from:from+n])
	} else {
		copy(dst[:first], r.buf[from:])
		copy(dst[first:n], r.buf[:n-first])
	}
	return int(n)
}

// AvailableRead returns the number of items ready to be read.
func (r *Ring[T]) AvailableRead() int {
	rd := r.readPos.Load()
	w := r.writePos.Load()
	return int((w - rd) & r.mask)
}

// AvailableWrite returns the number of items that can be written before the
// ring is full.
func (r *Ring[T]) AvailableWrite() int {
	w := r.writePos.Load()
	rd := r.readPos.Load()
	return int((rd - w - 1) & r.mask)
}

// Empty reports whether there is nothing to read.
func (r *Ring[T]) Empty() bool {
	return r.readPos.Load() == r.writePos.Load()
}

// Full reports whether a write would fail.
func (r *Ring[T]) Full() bool {
	w := r.writePos.Load()
	return (w+1)&r.mask == r.readPos.Load()
}
