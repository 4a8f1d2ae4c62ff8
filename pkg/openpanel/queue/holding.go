// Package queue provides the ordered buffer that holds events while the
// client waits for a profile to be identified.
package queue

import "sync"

// Holding is an ordered, mutex-guarded buffer.
// The zero value is ready to use.
type Holding[T any] struct {
	mu    sync.Mutex
	items []T
}

// Append adds item after every item appended before it.
func (q *Holding[T]) Append(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Detach atomically takes the current contents, leaving the buffer empty.
// Items appended afterwards belong to the next Detach.
func (q *Holding[T]) Detach() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of held items.
func (q *Holding[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
