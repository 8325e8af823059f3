package sched

import (
	"container/heap"
	"sync"
)

// requestQueue is the priority queue of pending run requests.
//
// Ordering is by the composite key (priority, scheduled time, enqueue
// sequence): lower priority value first, ties broken by earliest scheduled
// time, then by FIFO enqueue order. The sequence tiebreak makes dispatch
// order deterministic for equal-priority, equal-time entries.
type requestQueue struct {
	mu  sync.Mutex
	h   reqHeap
	seq uint64

	// wake nudges the dispatcher out of its poll sleep on push.
	wake chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{wake: make(chan struct{}, 1)}
}

func (q *requestQueue) push(r RunRequest) {
	q.mu.Lock()
	q.seq++
	if r.seq == 0 {
		r.seq = q.seq
	}
	heap.Push(&q.h, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *requestQueue) pop() (RunRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return RunRequest{}, false
	}
	return heap.Pop(&q.h).(RunRequest), true
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// clear drops all pending requests and returns how many were dropped.
func (q *requestQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.h)
	q.h = nil
	return n
}

type reqHeap []RunRequest

func (h reqHeap) Len() int { return len(h) }

func (h reqHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.seq < b.seq
}

func (h reqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reqHeap) Push(x any) { *h = append(*h, x.(RunRequest)) }

func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}
