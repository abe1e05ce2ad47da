// Package memory provides the bounded in-process ingest queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue hands ingest jobs from the frontier to the worker pool. A full queue
// blocks Enqueue until a worker frees a slot or ctx ends.
type Queue struct {
	items     chan crawler.IngestJob
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to capacity jobs. Zero makes every
// Enqueue wait for a ready worker.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:  make(chan crawler.IngestJob, max(capacity, 0)),
		closed: make(chan struct{}),
	}
}

// Enqueue adds job, waiting for space.
func (q *Queue) Enqueue(ctx context.Context, job crawler.IngestJob) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.items <- job:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue returns the next job. Jobs buffered before Close are still handed
// out; after that it returns ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.IngestJob, error) {
	select {
	case job := <-q.items:
		return job, nil
	case <-ctx.Done():
		return crawler.IngestJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.closed:
		select {
		case job := <-q.items:
			return job, nil
		default:
			return crawler.IngestJob{}, ErrClosed
		}
	}
}

// Len reports buffered jobs.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Close stops intake and wakes blocked callers. It is idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
