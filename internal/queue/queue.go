package queue

import "sync"

// Queue is an unbounded FIFO of messages.
//
// All methods are safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Message
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Append adds a message to the tail. It never blocks.
func (q *Queue) Append(msg Message) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// Dequeue removes and returns the head message.
func (q *Queue) Dequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true
}

// IsEmpty reports whether the queue holds no messages.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
