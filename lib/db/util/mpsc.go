package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue.
//
// Producers append to a linked list with compare-and-swap. A consumer
// goroutine owned by the queue moves the values to the channel returned by
// Recv. Values pushed before Close are always delivered; the channel is
// closed once the queue is closed and drained.
//
// Ordering between concurrent producers is the order in which their
// appends succeed.
//
// Thread-safety: Push and Close may be called from any goroutine. Recv
// must have a single reader.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a queue and starts its consumer goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

// Push appends value to the queue.
// It returns false if value is nil or the queue is closed.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// a failed CAS here means another producer already moved the tail
				q.tail.CompareAndSwap(tail, n)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that linked its node but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin while contention is low, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// drain delivers every linked value to the output channel and returns how
// many values were delivered
func (q *LockFreeMPSC[T]) drain() int {
	n := 0
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return n
		}

		value := next.value
		q.head.Store(next)
		q.out <- value
		next.value = nil
		n++
	}
}

// consume runs until the queue is closed and empty
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.out)

	for {
		if q.drain() > 0 {
			continue
		}

		if q.closed.Load() {
			// a producer may have linked its node right before Close
			if q.drain() == 0 {
				return
			}
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel values are delivered on
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting values. Values already pushed are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts the values that are waiting for the consumer. It walks the
// whole list and is meant for tests and debugging.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}
