package rpc

import (
	"sync"
)

// Queue holds outstanding continuations for one channel in request order.
// Replies on a channel arrive in the order requests were sent, so the head
// of the queue always owns the next synchronous reply.
type Queue struct {
	mu      sync.Mutex
	pending []*Continuation
	reason  error
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends k. Once the queue has been shut down, k is failed with the
// shutdown reason immediately and that reason is returned.
func (q *Queue) Enqueue(k *Continuation) error {
	q.mu.Lock()
	if q.reason != nil {
		reason := q.reason
		q.mu.Unlock()
		k.Fail(reason)
		return reason
	}
	q.pending = append(q.pending, k)
	q.mu.Unlock()
	return nil
}

// Next pops the oldest continuation.
func (q *Queue) Next() (*Continuation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	k := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return k, true
}

// HandleShutdown fails every queued continuation with reason and makes all
// later Enqueue calls fail. Only the first reason is kept.
func (q *Queue) HandleShutdown(reason error) {
	if reason == nil {
		reason = ErrShutdown
	}
	q.mu.Lock()
	if q.reason == nil {
		q.reason = reason
	}
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, k := range pending {
		k.Fail(reason)
	}
}

// Len reports how many continuations are outstanding.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
