package strategy

import (
	"github.com/taskfleet/dispatch/pkg/play"
)

// Order fixes the removal order of a WorkQueue. The order is part of a
// strategy's observable contract, not an implementation accident.
type Order int

const (
	FIFO Order = iota
	LIFO
)

// WorkItem is a (host, task) pair awaiting dispatch.
type WorkItem struct {
	Host play.Host
	Task play.Task
}

// WorkQueue holds pending WorkItems. It is owned by exactly one strategy
// instance and driven from a single goroutine; no locking here.
type WorkQueue struct {
	order Order
	items []WorkItem
}

func NewWorkQueue(order Order) *WorkQueue {
	return &WorkQueue{order: order}
}

// Enqueue appends an item to the end of the queue.
func (q *WorkQueue) Enqueue(host play.Host, task play.Task) {
	q.items = append(q.items, WorkItem{Host: host, Task: task})
}

// DequeueAll removes and returns every pending item in the queue's removal
// order, leaving the queue empty. Safe to call on an empty queue.
func (q *WorkQueue) DequeueAll() []WorkItem {
	items := q.items
	q.items = nil
	if len(items) == 0 {
		return []WorkItem{}
	}
	if q.order == LIFO {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items
}

// Len returns the number of pending items.
func (q *WorkQueue) Len() int { return len(q.items) }
