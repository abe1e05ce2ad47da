// Package ingest turns extracted postings into live content-store entries,
// deduplicating on the canonical source URL.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
)

const tracerName = "github.com/JakeFAU/jobcrawler/internal/ingest"

// Config names the container postings are created under.
type Config struct {
	ContainerSlug  string
	ContainerTitle string
	Topic          string
	// TrustSeenCache reports a seen-cache hit as a duplicate without asking
	// the store. Otherwise a hit is confirmed by FindBySourceURL.
	TrustSeenCache bool
}

// Ingester runs the find, resolve-container, create-and-publish sequence.
// The store's uniqueness guarantee is the only concurrency control.
type Ingester struct {
	store      crawler.ContentStore
	seen       crawler.SeenCache
	publishers []crawler.Publisher
	indexer    crawler.Indexer
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger

	containerMu sync.Mutex
	container   *crawler.Container
}

// Option customizes an Ingester.
type Option func(*Ingester)

// WithSeenCache consults cache before the store and marks URLs after a decision.
func WithSeenCache(cache crawler.SeenCache) Option {
	return func(i *Ingester) { i.seen = cache }
}

// WithPublishers announces created postings on each publisher.
func WithPublishers(pubs ...crawler.Publisher) Option {
	return func(i *Ingester) { i.publishers = append(i.publishers, pubs...) }
}

// WithIndexer indexes created postings.
func WithIndexer(idx crawler.Indexer) Option {
	return func(i *Ingester) { i.indexer = idx }
}

// New constructs an Ingester.
func New(store crawler.ContentStore, clock crawler.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = crawler.PostingEventCreated
	}
	i := &Ingester{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest handles one job and never panics or returns an error to the caller;
// failures are reported through the result outcome.
func (i *Ingester) Ingest(ctx context.Context, job crawler.IngestJob) crawler.IngestResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.posting")
	defer span.End()
	span.SetAttributes(
		attribute.String("crawl.run_id", job.RunID),
		attribute.String("posting.source_url", job.Posting.SourceURL),
	)

	res := i.ingest(ctx, job)
	span.SetAttributes(attribute.String("ingest.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "persistence error")
	}
	metrics.ObserveIngest(string(res.Outcome))
	return res
}

func (i *Ingester) ingest(ctx context.Context, job crawler.IngestJob) crawler.IngestResult {
	sourceURL := job.Posting.SourceURL
	res := crawler.IngestResult{RunID: job.RunID, SourceURL: sourceURL}
	logger := i.logger.With(zap.String("run_id", job.RunID), zap.String("source_url", sourceURL))

	cached := i.cachedSeen(ctx, logger, sourceURL)
	if cached && i.cfg.TrustSeenCache {
		logger.Debug("posting already seen")
		res.Outcome = crawler.OutcomeDuplicate
		return res
	}

	existing, found, err := i.store.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return i.dropped(logger, res, fmt.Errorf("find by source url: %w", err))
	}
	if cached && !found {
		logger.Info("seen cache entry missing from store, ingesting again")
	}
	if found {
		logger.Debug("posting already stored", zap.String("posting_id", existing.ID))
		i.markSeen(ctx, logger, sourceURL)
		res.Outcome = crawler.OutcomeDuplicate
		res.PostingID = existing.ID
		return res
	}

	container, err := i.resolveContainer(ctx)
	if err != nil {
		return i.dropped(logger, res, err)
	}

	posting, err := i.store.CreateAndPublish(ctx, container, job.Posting)
	if errors.Is(err, crawler.ErrAlreadyExists) {
		logger.Info("posting created concurrently, treating as duplicate")
		i.markSeen(ctx, logger, sourceURL)
		res.Outcome = crawler.OutcomeDuplicate
		return res
	}
	if err != nil {
		return i.dropped(logger, res, fmt.Errorf("create and publish: %w", err))
	}

	logger.Info("posting created",
		zap.String("posting_id", posting.ID),
		zap.String("slug", posting.Slug),
		zap.String("title", posting.Title),
	)
	i.markSeen(ctx, logger, sourceURL)
	i.announce(ctx, logger, job.RunID, posting)

	res.Outcome = crawler.OutcomeCreated
	res.PostingID = posting.ID
	return res
}

func (i *Ingester) dropped(logger *zap.Logger, res crawler.IngestResult, err error) crawler.IngestResult {
	logger.Error("ingest failed", zap.Error(err))
	res.Outcome = crawler.OutcomePersistenceError
	res.Err = err
	return res
}

// resolveContainer creates the container at most once per Ingester. A failed
// attempt is not cached, so the next posting retries.
func (i *Ingester) resolveContainer(ctx context.Context) (crawler.Container, error) {
	i.containerMu.Lock()
	defer i.containerMu.Unlock()
	if i.container != nil {
		return *i.container, nil
	}
	c, err := i.store.GetOrCreateContainer(ctx, i.cfg.ContainerSlug, i.cfg.ContainerTitle)
	if err != nil {
		return crawler.Container{}, fmt.Errorf("get or create container %q: %w", i.cfg.ContainerSlug, err)
	}
	i.container = &c
	return c, nil
}

func (i *Ingester) cachedSeen(ctx context.Context, logger *zap.Logger, sourceURL string) bool {
	if i.seen == nil {
		return false
	}
	seen, err := i.seen.Seen(ctx, sourceURL)
	if err != nil {
		logger.Warn("seen cache lookup failed", zap.Error(err))
		return false
	}
	return seen
}

func (i *Ingester) markSeen(ctx context.Context, logger *zap.Logger, sourceURL string) {
	if i.seen == nil {
		return
	}
	if err := i.seen.MarkSeen(ctx, sourceURL); err != nil {
		logger.Warn("seen cache update failed", zap.Error(err))
	}
}

func (i *Ingester) announce(ctx context.Context, logger *zap.Logger, runID string, posting crawler.Posting) {
	if len(i.publishers) > 0 {
		event := crawler.PostingEvent{
			Type:    crawler.PostingEventCreated,
			RunID:   runID,
			Posting: posting,
			At:      i.clock.Now(),
		}
		for _, pub := range i.publishers {
			if _, err := pub.Publish(ctx, i.cfg.Topic, event); err != nil {
				logger.Warn("publish posting event failed", zap.Error(err))
			}
		}
	}
	if i.indexer != nil {
		if err := i.indexer.Index(ctx, posting); err != nil {
			logger.Warn("index posting failed", zap.String("posting_id", posting.ID), zap.Error(err))
		}
	}
}
