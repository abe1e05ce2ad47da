// Package dispatcher manages ingest worker fan-out and routes results back to
// the run that produced each job.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.IngestQueue
	workers []*worker.Worker
	results chan crawler.IngestResult
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// depthReporter is implemented by queues that expose their buffer usage.
type depthReporter interface {
	Len() int
	Cap() int
}

type subscription struct {
	ch   chan crawler.IngestResult
	done chan struct{}
}

// New creates a Dispatcher with size workers sharing one ingester.
func New(queue crawler.IngestQueue, ingester worker.Ingester, size int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 1
	}
	d := &Dispatcher{
		queue:   queue,
		results: make(chan crawler.IngestResult, size),
		logger:  logger,
		subs:    make(map[string]*subscription),
	}
	for i := 0; i < size; i++ {
		d.workers = append(d.workers, worker.New(i+1, queue, ingester, d.results, logger))
	}
	d.observeDepth()
	return d
}

// Run starts all workers and blocks until they stop, which happens when ctx
// ends or the queue is closed and drained. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	routed := make(chan struct{})
	go func() {
		defer close(routed)
		d.route(ctx)
	}()
	wg.Wait()
	close(d.results)
	<-routed
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job crawler.IngestJob) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.observeDepth()
	return nil
}

// QueueDepth reports buffered jobs and the buffer size, or false when the
// queue does not track them.
func (d *Dispatcher) QueueDepth() (depth, capacity int, ok bool) {
	q, ok := d.queue.(depthReporter)
	if !ok {
		return 0, 0, false
	}
	return q.Len(), q.Cap(), true
}

func (d *Dispatcher) observeDepth() {
	if depth, capacity, ok := d.QueueDepth(); ok {
		metrics.SetIngestQueue(depth, capacity)
	}
}

// Subscribe returns the results for runID. Call cancel once the run stops
// reading; results arriving afterwards are discarded.
func (d *Dispatcher) Subscribe(runID string, buffer int) (<-chan crawler.IngestResult, func()) {
	sub := &subscription{
		ch:   make(chan crawler.IngestResult, buffer),
		done: make(chan struct{}),
	}
	d.mu.Lock()
	d.subs[runID] = sub
	d.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			d.mu.Lock()
			if d.subs[runID] == sub {
				delete(d.subs, runID)
			}
			d.mu.Unlock()
			close(sub.done)
		})
	}
}

func (d *Dispatcher) route(ctx context.Context) {
	for res := range d.results {
		d.observeDepth()
		d.mu.Lock()
		sub := d.subs[res.RunID]
		d.mu.Unlock()
		if sub == nil {
			d.logger.Debug("dropping result for unsubscribed run",
				zap.String("run_id", res.RunID),
				zap.String("outcome", string(res.Outcome)),
			)
			continue
		}
		select {
		case sub.ch <- res:
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}
