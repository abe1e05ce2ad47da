package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func ingestJob(url string) crawler.IngestJob {
	return crawler.IngestJob{RunID: "run-1", Posting: crawler.JobPosting{SourceURL: url}}
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.IngestJob, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), ingestJob("https://x.test/job/1")))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "https://x.test/job/1", got.Posting.SourceURL)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), ingestJob("primed")))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, ingestJob("blocked"))
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), ingestJob("a")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), ingestJob("b")), ErrClosed)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.Posting.SourceURL)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseReleasesBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.Equal(t, 1, q.Cap())
	require.NoError(t, q.Enqueue(context.Background(), ingestJob("a")))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(context.Background(), ingestJob("b")) }()

	q.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}
