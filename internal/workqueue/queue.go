package workqueue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue is
// closed and every queued item has been handed out.
var ErrClosed = errors.New("workqueue: closed")

// Queue is a FIFO of pending items safe for concurrent Push and Pop.
type Queue[T any] struct {
	mutex    sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	head     int
	capacity int
	closed   bool
}

// New creates a queue. capacity <= 0 makes it unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}

	q := &Queue[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mutex)
	q.notFull = sync.NewCond(&q.mutex)

	return q
}

// Push appends item to the tail and wakes one waiting consumer.
// On a bounded queue it blocks while the queue is full.
func (q *Queue[T]) Push(item T) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for !q.closed && q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.notFull.Wait()
	}

	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()

	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
// Items pushed before Close are still returned after it.
func (q *Queue[T]) Pop() (T, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for !q.closed && q.lenLocked() == 0 {
		q.notEmpty.Wait()
	}

	var zero T
	if q.lenLocked() == 0 {
		return zero, ErrClosed
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	if q.capacity > 0 {
		q.notFull.Signal()
	}

	return item, nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.lenLocked()
}

// Capacity returns the bound given to New, 0 for unbounded.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Close wakes every blocked caller. Subsequent pushes fail; pops drain the
// remaining items and then fail with ErrClosed.
func (q *Queue[T]) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}
