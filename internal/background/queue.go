// Package background runs fire-and-forget work (cache stores, request
// logging) off the response path. Task failures are swallowed: nothing
// submitted here may ever affect a response already being returned.
package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Queue hands tasks to a single worker goroutine over a buffered channel.
// Submit never blocks; when the buffer is full the task is dropped.
type Queue struct {
	tasks chan func()
	log   *zap.Logger
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a queue with the given buffer size.
func New(log *zap.Logger, buffer int) *Queue {
	q := &Queue{
		tasks: make(chan func(), buffer),
		log:   log,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.safeRun(task)
	}
}

func (q *Queue) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("background task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Submit schedules a task. It returns false when the task was dropped
// because the queue is saturated or already shut down.
func (q *Queue) Submit(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.log.Warn("background queue saturated, task dropped")
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued work to finish, or
// for the context to expire, whichever comes first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
