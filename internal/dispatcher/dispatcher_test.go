package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/queue/memory"
)

type echoIngester struct{}

func (echoIngester) Ingest(_ context.Context, job crawler.IngestJob) crawler.IngestResult {
	return crawler.IngestResult{RunID: job.RunID, SourceURL: job.Posting.SourceURL, Outcome: crawler.OutcomeCreated}
}

func TestDispatcherRoutesResultsPerRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(memory.NewQueue(16), echoIngester{}, 3, zap.NewNop())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	runA, cancelA := d.Subscribe("run-a", 8)
	defer cancelA()
	runB, cancelB := d.Subscribe("run-b", 8)
	defer cancelB()

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Enqueue(ctx, crawler.IngestJob{RunID: "run-a", Posting: crawler.JobPosting{SourceURL: fmt.Sprintf("a/%d", i)}}))
		require.NoError(t, d.Enqueue(ctx, crawler.IngestJob{RunID: "run-b", Posting: crawler.JobPosting{SourceURL: fmt.Sprintf("b/%d", i)}}))
	}

	collect := func(ch <-chan crawler.IngestResult, runID string) {
		for i := 0; i < 4; i++ {
			select {
			case res := <-ch:
				require.Equal(t, runID, res.RunID)
			case <-time.After(2 * time.Second):
				t.Fatalf("missing results for %s", runID)
			}
		}
	}
	collect(runA, "run-a")
	collect(runB, "run-b")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherDiscardsAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(memory.NewQueue(4), echoIngester{}, 1, zap.NewNop())
	go d.Run(ctx)

	_, unsubscribe := d.Subscribe("run-x", 0)
	unsubscribe()
	unsubscribe()

	require.NoError(t, d.Enqueue(ctx, crawler.IngestJob{RunID: "run-x"}))
	// A later run still receives its results, so the router is not stuck.
	later, stop := d.Subscribe("run-y", 1)
	defer stop()
	require.NoError(t, d.Enqueue(ctx, crawler.IngestJob{RunID: "run-y"}))
	select {
	case res := <-later:
		require.Equal(t, "run-y", res.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("router blocked on an unsubscribed run")
	}
}

func TestDispatcherDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	d := New(q, echoIngester{}, 2, zap.NewNop())
	results, stop := d.Subscribe("run-d", 8)
	defer stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(context.Background(), crawler.IngestJob{RunID: "run-d", Posting: crawler.JobPosting{SourceURL: fmt.Sprintf("d/%d", i)}}))
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after the queue drained")
	}
	require.Len(t, results, 5)
}

func TestDispatcherReportsQueueDepth(t *testing.T) {
	t.Parallel()

	d := New(memory.NewQueue(4), echoIngester{}, 1, zap.NewNop())
	require.NoError(t, d.Enqueue(context.Background(), crawler.IngestJob{RunID: "run-q"}))
	require.NoError(t, d.Enqueue(context.Background(), crawler.IngestJob{RunID: "run-q"}))

	depth, capacity, ok := d.QueueDepth()
	require.True(t, ok)
	require.Equal(t, 2, depth)
	require.Equal(t, 4, capacity)

	_, _, ok = New(&errorQueue{}, echoIngester{}, 1, nil).QueueDepth()
	require.False(t, ok)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, echoIngester{}, 1, nil)
	err := d.Enqueue(context.Background(), crawler.IngestJob{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.IngestJob) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (crawler.IngestJob, error) {
	<-ctx.Done()
	return crawler.IngestJob{}, ctx.Err()
}
