// Package worker implements the ingest execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/queue/memory"
)

// Ingester handles one ingest job.
type Ingester interface {
	Ingest(ctx context.Context, job crawler.IngestJob) crawler.IngestResult
}

// Worker consumes queue items, ingests them and reports each result.
type Worker struct {
	id       int
	queue    crawler.IngestQueue
	ingester Ingester
	results  chan<- crawler.IngestResult
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue crawler.IngestQueue,
	ingester Ingester,
	results chan<- crawler.IngestResult,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		ingester: ingester,
		results:  results,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued posting",
			zap.String("run_id", job.RunID),
			zap.String("source_url", job.Posting.SourceURL),
		)
		res := w.process(ctx, job)
		if w.results == nil {
			continue
		}
		select {
		case w.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job crawler.IngestJob) (res crawler.IngestResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("ingest panicked",
				zap.String("source_url", job.Posting.SourceURL),
				zap.Any("panic", r),
			)
			res = crawler.IngestResult{
				RunID:     job.RunID,
				SourceURL: job.Posting.SourceURL,
				Outcome:   crawler.OutcomePersistenceError,
				Err:       errors.New("ingest panicked"),
			}
		}
	}()
	return w.ingester.Ingest(ctx, job)
}
