// Package scheduler orders work for dispatch by priority, with budget-aware
// admission.
//
// Ordering is strict: a steady stream of urgent items starves lower tiers.
// There is no aging.
package scheduler

import (
	"container/heap"
	"sync"

	"genqueue/internal/domain"
)

// Budget configures cost-aware admission. A zero Total disables it.
type Budget struct {
	Total     float64
	Threshold float64
}

// DefaultBudget returns the configuration defaults.
func DefaultBudget() Budget { return Budget{Threshold: 0.8} }

type item[T any] struct {
	value    T
	priority domain.Priority
	cost     float64
	seq      uint64
}

type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) { *h = append(*h, x.(*item[T])) }

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a concurrency-safe priority queue. Ties within a tier keep
// insertion order.
type Queue[T any] struct {
	mu        sync.Mutex
	items     itemHeap[T]
	seq       uint64
	budget    Budget
	committed float64
}

// New creates an empty queue.
func New[T any](budget Budget) *Queue[T] {
	if budget.Threshold <= 0 || budget.Threshold > 1 {
		budget.Threshold = DefaultBudget().Threshold
	}
	return &Queue[T]{budget: budget}
}

// Enqueue adds v with the given priority and cost. Unknown priorities are
// treated as NORMAL.
func (q *Queue[T]) Enqueue(v T, p domain.Priority, cost float64) {
	if !p.Valid() {
		p = domain.PriorityNormal
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, &item[T]{value: v, priority: p, cost: cost, seq: q.seq})
}

// Dequeue removes the next eligible item and commits its cost. Under budget
// pressure only items at NORMAL or more urgent are eligible; ok is false when
// nothing is.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false
	}
	// The head is the most urgent item, so if it is held back so is the rest.
	if q.underPressureLocked() && q.items[0].priority > domain.PriorityNormal {
		return v, false
	}
	it := heap.Pop(&q.items).(*item[T])
	q.committed += it.cost
	return it.value, true
}

// Release returns cost to the budget once dequeued work has settled.
func (q *Queue[T]) Release(cost float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.committed -= cost
	if q.committed < 0 {
		q.committed = 0
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Committed reports the cost dequeued and not yet released.
func (q *Queue[T]) Committed() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committed
}

// UnderPressure reports whether committed cost has crossed the threshold.
func (q *Queue[T]) UnderPressure() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.underPressureLocked()
}

func (q *Queue[T]) underPressureLocked() bool {
	return q.budget.Total > 0 && q.committed >= q.budget.Threshold*q.budget.Total
}
