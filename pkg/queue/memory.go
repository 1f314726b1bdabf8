package queue

import "fmt"

// InMemoryQueue implements an in-memory queue backed by a buffered channel.
type InMemoryQueue struct {
	ch chan interface{}
}

// NewInMemoryQueue creates a new queue with the given capacity.
func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{
		ch: make(chan interface{}, size),
	}
}

// Enqueue adds an item to the end of the queue.
// It fails if the queue is full rather than blocking the caller.
func (q *InMemoryQueue) Enqueue(item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

// ReadAllMessages drains the queue and returns all pending items in order.
func (q *InMemoryQueue) ReadAllMessages() ([]interface{}, error) {
	var items []interface{}
	for {
		select {
		case item := <-q.ch:
			items = append(items, item)
		default:
			return items, nil
		}
	}
}

// Size returns the current number of items in the queue.
func (q *InMemoryQueue) Size() int {
	return len(q.ch)
}

// Clear discards all pending items.
func (q *InMemoryQueue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
