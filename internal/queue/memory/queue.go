// Package memory provides the in-process task queue shared by the API and
// the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Queue is an unbounded FIFO of crawl tasks. Enqueue never blocks; Dequeue
// blocks until a task arrives, the context ends, or the queue is closed.
// Waiting consumers are served in arrival order and each arriving task is
// handed to exactly one of them.
type Queue struct {
	mu      sync.Mutex
	tasks   []crawler.Task
	waiters []*waiter
	closed  bool
}

type waiter struct {
	ch chan crawler.Task
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a task, or hands it straight to the longest-waiting
// consumer when one is blocked in Dequeue.
func (q *Queue) Enqueue(task crawler.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
		w.ch <- task
		return nil
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// Dequeue pops the next task, respecting context cancellation. A task that
// was already handed to this caller is returned even if ctx ends meanwhile.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Task, error) {
	q.mu.Lock()
	if len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks[0] = crawler.Task{}
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		return task, nil
	}
	if q.closed {
		q.mu.Unlock()
		return crawler.Task{}, crawler.ErrQueueClosed
	}
	w := &waiter{ch: make(chan crawler.Task, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case task, ok := <-w.ch:
		if !ok {
			return crawler.Task{}, crawler.ErrQueueClosed
		}
		return task, nil
	case <-ctx.Done():
		if q.removeWaiter(w) {
			return crawler.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		// Enqueue or Close already dealt with this waiter.
		task, ok := <-w.ch
		if !ok {
			return crawler.Task{}, crawler.ErrQueueClosed
		}
		return task, nil
	}
}

func (q *Queue) removeWaiter(w *waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.waiters {
		if candidate == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of buffered tasks not yet handed to a consumer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close wakes all waiting consumers with crawler.ErrQueueClosed and rejects
// further enqueues. Buffered tasks can still be drained. Safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, w := range q.waiters {
		close(w.ch)
	}
	q.waiters = nil
}
