package crawler

import (
	"context"
	"io"
	"time"
)

// ContentStore persists postings under per-source containers.
type ContentStore interface {
	// FindBySourceURL looks a posting up by exact canonical source URL.
	FindBySourceURL(ctx context.Context, sourceURL string) (Posting, bool, error)
	// GetOrCreateContainer is idempotent: repeated calls return the same container.
	GetOrCreateContainer(ctx context.Context, slug, title string) (Container, error)
	// CreateAndPublish atomically re-checks, creates, and publishes the posting.
	// It returns ErrAlreadyExists when the source URL is already taken.
	CreateAndPublish(ctx context.Context, container Container, posting JobPosting) (Posting, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes posting events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Indexer makes postings searchable.
type Indexer interface {
	Index(ctx context.Context, posting Posting) error
}

// SeenCache is a fast, non-authoritative record of source URLs already handled.
type SeenCache interface {
	Seen(ctx context.Context, sourceURL string) (bool, error)
	MarkSeen(ctx context.Context, sourceURL string) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// RateLimiter throttles fetches per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// IngestQueue provides enqueue/dequeue semantics for ingest jobs.
type IngestQueue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Dequeue(ctx context.Context) (IngestJob, error)
}

// RunStore tracks crawl runs for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
	AddCounters(ctx context.Context, runID string, delta RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
