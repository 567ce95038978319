package gc

import (
	"sync"

	"github.com/gammazero/deque"
)

// MarkQueue is a FIFO of pending tracing work. Barriers running on mutator threads may push while the
// collector pops.
type MarkQueue[T any] struct {
	mutex sync.Mutex
	items deque.Deque[T]
}

func (q *MarkQueue[T]) Push(item T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items.PushBack(item)
}

func (q *MarkQueue[T]) Pop() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

func (q *MarkQueue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.items.Len()
}

func (q *MarkQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *MarkQueue[T]) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items.Clear()
}
