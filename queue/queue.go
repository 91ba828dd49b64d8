package queue

import (
	"sync"

	"listmailer/internal/metrics"
	"listmailer/message"
)

type entry struct {
	msg  *message.Message
	slot int
}

// Queue holds compiled messages waiting to be dispatched. Every message gets
// a slot number when pushed; its outcome is stored in that slot.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	pushed  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make([]entry, 0)}
}

// Push adds msg and returns its slot.
func (q *Queue) Push(msg *message.Message) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot := q.pushed
	q.pushed++
	q.entries = append(q.entries, entry{msg: msg, slot: slot})
	metrics.SetQueueDepth(len(q.entries))
	return slot
}

// Pop claims the most recently pushed message. A claimed message is never
// returned again. ok is false once the queue is empty.
func (q *Queue) Pop() (msg *message.Message, slot int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if n == 0 {
		return nil, 0, false
	}
	e := q.entries[n-1]
	q.entries[n-1] = entry{}
	q.entries = q.entries[:n-1]
	metrics.SetQueueDepth(len(q.entries))
	return e.msg, e.slot, true
}

// Len returns the number of unclaimed messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pushed returns the number of slots handed out.
func (q *Queue) Pushed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}
