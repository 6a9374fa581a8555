package orderbook

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

type timedItem[T any] struct {
	at   time.Time
	item T
}

// TimeCircularQueue keeps the items pushed during the last window. When
// capacity is positive the oldest items are dropped once it is exceeded.
type TimeCircularQueue[T any] struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	items    deque.Deque[timedItem[T]]
	now      func() time.Time
}

func NewTimeCircularQueue[T any](window time.Duration, capacity int) *TimeCircularQueue[T] {
	return &TimeCircularQueue[T]{
		window:   window,
		capacity: capacity,
		items:    deque.Deque[timedItem[T]]{},
		now:      time.Now,
	}
}

// SetClock replaces the time source, used by tests.
func (q *TimeCircularQueue[T]) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.now = now
}

func (q *TimeCircularQueue[T]) Window() time.Duration {
	return q.window
}

func (q *TimeCircularQueue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.evict(now)
	q.items.PushBack(timedItem[T]{at: now, item: item})

	if q.capacity > 0 && q.items.Len() > q.capacity {
		q.items.PopFront()
	}
}

// Count returns the number of items still inside the window.
func (q *TimeCircularQueue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evict(q.now())
	return q.items.Len()
}

// Items returns the items inside the window, oldest first.
func (q *TimeCircularQueue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evict(q.now())
	result := make([]T, 0, q.items.Len())
	for i := 0; i < q.items.Len(); i++ {
		result = append(result, q.items.At(i).item)
	}

	return result
}

func (q *TimeCircularQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.Clear()
}

func (q *TimeCircularQueue[T]) evict(now time.Time) {
	for q.items.Len() > 0 && now.Sub(q.items.Front().at) >= q.window {
		q.items.PopFront()
	}
}
