package sched

import (
	"testing"
	"time"
)

func TestQueueOrdersByPriority(t *testing.T) {
	t.Parallel()
	q := newRequestQueue()
	now := time.Now()
	q.push(RunRequest{JobID: "low", Priority: 5, ScheduledAt: now})
	q.push(RunRequest{JobID: "high", Priority: 1, ScheduledAt: now})
	q.push(RunRequest{JobID: "mid", Priority: 3, ScheduledAt: now})

	for _, want := range []string{"high", "mid", "low"} {
		req, ok := q.pop()
		if !ok {
			t.Fatalf("pop failed, want %s", want)
		}
		if req.JobID != want {
			t.Fatalf("pop = %s, want %s", req.JobID, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop succeeded on an empty queue")
	}
}

func TestQueueBreaksTiesByScheduledTimeThenFIFO(t *testing.T) {
	t.Parallel()
	q := newRequestQueue()
	now := time.Now()

	// Same priority: earlier scheduled time wins.
	q.push(RunRequest{JobID: "later", Priority: 2, ScheduledAt: now.Add(time.Hour)})
	q.push(RunRequest{JobID: "sooner", Priority: 2, ScheduledAt: now})

	// Same priority and time: enqueue order wins.
	q.push(RunRequest{JobID: "first", Priority: 2, ScheduledAt: now.Add(2 * time.Hour)})
	q.push(RunRequest{JobID: "second", Priority: 2, ScheduledAt: now.Add(2 * time.Hour)})

	for _, want := range []string{"sooner", "later", "first", "second"} {
		req, ok := q.pop()
		if !ok || req.JobID != want {
			t.Fatalf("pop = %s/%v, want %s", req.JobID, ok, want)
		}
	}
}

func TestQueueRequeueKeepsPosition(t *testing.T) {
	t.Parallel()
	q := newRequestQueue()
	now := time.Now()
	q.push(RunRequest{JobID: "a", Priority: 2, ScheduledAt: now})
	q.push(RunRequest{JobID: "b", Priority: 2, ScheduledAt: now})

	// Pop "a" and put it back with a bumped retry count; its original
	// sequence number keeps it ahead of "b".
	req, ok := q.pop()
	if !ok || req.JobID != "a" {
		t.Fatalf("pop = %s/%v, want a", req.JobID, ok)
	}
	req.RetryCount++
	q.push(req)

	got, ok := q.pop()
	if !ok || got.JobID != "a" {
		t.Fatalf("pop after requeue = %s/%v, want a", got.JobID, ok)
	}
	if got.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", got.RetryCount)
	}
}

func TestQueueClear(t *testing.T) {
	t.Parallel()
	q := newRequestQueue()
	for i := 0; i < 3; i++ {
		q.push(RunRequest{JobID: "x", Priority: i})
	}
	if n := q.clear(); n != 3 {
		t.Fatalf("clear = %d, want 3", n)
	}
	if q.len() != 0 {
		t.Fatalf("len = %d after clear, want 0", q.len())
	}
}
