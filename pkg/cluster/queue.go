// Package cluster dispatches encode jobs onto named queues drained by
// workers running on local, ssh and agent hosts.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// ErrQueueClosed is returned by Put once the queue has been closed
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of jobs shared by every worker bound to its
// name. Close marks the end of input; Get drains what remains and then
// reports the queue finished.
type Queue struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*models.EncodeJob
	closed bool
}

// NewQueue creates an empty, open queue
func NewQueue(name string) *Queue {
	q := &Queue{name: name}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Put appends job
func (q *Queue) Put(job *models.EncodeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: %s", ErrQueueClosed, q.name)
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Close marks all work as enqueued. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Get removes the oldest job, blocking while the queue is empty and open.
// It returns false once the queue is closed and drained, or ctx is done.
func (q *Queue) Get(ctx context.Context) (*models.EncodeJob, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if ctx.Err() != nil || len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

// Len returns the number of jobs waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
