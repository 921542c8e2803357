package pipeline

import (
	"context"
	"sync"
)

// DropOldestQueue is a bounded FIFO between the capture callback and the
// analysis goroutine. Push never blocks: when the queue is full the oldest
// element is discarded. Critical sections are O(1) so a producer on a
// real-time audio thread is never held up for long.
type DropOldestQueue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

// NewDropOldestQueue creates a queue holding at most capacity elements.
func NewDropOldestQueue[T any](capacity int) *DropOldestQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &DropOldestQueue[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v. It returns ErrFrameDropped when an older element had to
// be discarded to make room, and ErrChannelClosed once the queue is closed.
func (q *DropOldestQueue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrChannelClosed
	}

	var err error
	if q.count == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped++
		err = ErrFrameDropped
	}
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++

	// signal under the lock so Close cannot close notify in between
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return err
}

// TryPop removes the oldest element without waiting.
func (q *DropOldestQueue[T]) TryPop() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		if q.closed {
			return zero, false, ErrChannelClosed
		}
		return zero, false, nil
	}

	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v, true, nil
}

// Pop waits for the oldest element. Elements pushed before Close are still
// delivered; afterwards Pop returns ErrChannelClosed.
func (q *DropOldestQueue[T]) Pop(ctx context.Context) (T, error) {
	for {
		v, ok, err := q.TryPop()
		if err != nil || ok {
			return v, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close stops the queue accepting elements and wakes any waiting consumer.
// It is safe to call more than once.
func (q *DropOldestQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.notify)
	q.mu.Unlock()
}

// Len returns the number of waiting elements
func (q *DropOldestQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity
func (q *DropOldestQueue[T]) Cap() int {
	return len(q.buf)
}

// Dropped returns how many elements were discarded on overflow
func (q *DropOldestQueue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// LatestSlot is a single-value mailbox: every Publish overwrites whatever
// the consumer has not read yet. Versions only move forward, so a reader
// never observes an older value after a newer one.
type LatestSlot[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	set     bool
	closed  bool
}

// NewLatestSlot creates an empty slot
func NewLatestSlot[T any]() *LatestSlot[T] {
	return &LatestSlot[T]{}
}

// Publish stores v under version. Stale versions are ignored and reported
// as false; a closed slot returns ErrChannelClosed.
func (s *LatestSlot[T]) Publish(version uint64, v T) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrChannelClosed
	}
	if s.set && version < s.version {
		return false, nil
	}
	s.value = v
	s.version = version
	s.set = true
	return true, nil
}

// Latest returns the current value without consuming it.
func (s *LatestSlot[T]) Latest() (T, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.version, s.set
}

// Close rejects further publishes. The last value stays readable.
func (s *LatestSlot[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Reset empties and reopens the slot
func (s *LatestSlot[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.value = zero
	s.version = 0
	s.set = false
	s.closed = false
}
