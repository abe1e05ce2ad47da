// Package frontier walks listing pages for each seed, extracts detail
// postings and hands them to the ingest pipeline.
package frontier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/progress"
)

// DefaultMaxPages bounds each seed's pagination chain. Larger configured
// values are clamped to it.
const DefaultMaxPages = 10

// Pipeline accepts ingest jobs and streams back their results per run.
type Pipeline interface {
	Enqueue(ctx context.Context, job crawler.IngestJob) error
	Subscribe(runID string, buffer int) (<-chan crawler.IngestResult, func())
}

// Emitter receives progress events. *progress.Hub satisfies it.
type Emitter interface {
	Emit(evt progress.Event)
}

// Config tunes a Frontier.
type Config struct {
	// Concurrency bounds in-flight detail tasks. Seed chains share the same limit.
	Concurrency int
	MaxPages    int
	UserAgent   string
	Referer     string
	// Headers are added to every request after the profile's own headers.
	Headers map[string]string
	// ArchivePrefix roots raw page objects in the archive store.
	ArchivePrefix string
	// TrustSeenCache skips the store lookup on a seen-cache hit. Leave it off
	// when the cache can outlive the store.
	TrustSeenCache bool
}

// Stats summarizes a finished run.
type Stats struct {
	crawler.RunCounters
	Fetches  int64
	Headless int64
	Duration time.Duration
}

// Frontier drives crawl runs for one site profile.
type Frontier struct {
	cfg       Config
	profile   extract.Profile
	extractor *extract.Extractor
	headers   http.Header
	fetcher   crawler.Fetcher
	pipeline  Pipeline
	clock     crawler.Clock
	logger    *zap.Logger

	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	limiter  crawler.RateLimiter
	store    crawler.ContentStore
	seen     crawler.SeenCache
	archive  crawler.BlobStore
	hasher   crawler.Hasher
	events   Emitter
}

// Option configures optional collaborators.
type Option func(*Frontier)

// WithHeadless re-fetches pages the detector flags with a rendering fetcher.
func WithHeadless(fetcher crawler.Fetcher, detector crawler.HeadlessDetector) Option {
	return func(f *Frontier) {
		f.headless = fetcher
		f.detector = detector
	}
}

// WithRateLimiter throttles every fetch.
func WithRateLimiter(limiter crawler.RateLimiter) Option {
	return func(f *Frontier) { f.limiter = limiter }
}

// WithPreCheck skips detail fetches whose URL is already known to the seen
// cache or the content store. It only applies when the profile uses the
// detail URL as the source URL.
func WithPreCheck(store crawler.ContentStore, seen crawler.SeenCache) Option {
	return func(f *Frontier) {
		f.store = store
		f.seen = seen
	}
}

// WithArchive stores raw detail bodies, keyed by content hash.
func WithArchive(store crawler.BlobStore, hasher crawler.Hasher) Option {
	return func(f *Frontier) {
		f.archive = store
		f.hasher = hasher
	}
}

// WithEmitter publishes run, fetch and task events.
func WithEmitter(events Emitter) Option {
	return func(f *Frontier) { f.events = events }
}

// New builds a Frontier.
func New(
	cfg Config,
	profile extract.Profile,
	fetcher crawler.Fetcher,
	pipeline Pipeline,
	clock crawler.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = DefaultMaxPages
	}
	cfg.MaxPages = min(cfg.MaxPages, DefaultMaxPages)
	f := &Frontier{
		cfg:       cfg,
		profile:   profile,
		extractor: extract.NewExtractor(profile.Fields),
		headers:   buildHeaders(cfg, profile),
		fetcher:   fetcher,
		pipeline:  pipeline,
		clock:     clock,
		logger:    logger,
		events:    nopEmitter{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.events == nil {
		f.events = nopEmitter{}
	}
	return f
}

func buildHeaders(cfg Config, profile extract.Profile) http.Header {
	h := make(http.Header)
	for k, v := range profile.Headers {
		h.Set(k, v)
	}
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.Referer != "" {
		h.Set("Referer", cfg.Referer)
	}
	return h
}

// Run crawls seeds until every task is terminal or ctx ends. Fetch and ingest
// failures are contained per task; only cancellation is returned as an error.
func (f *Frontier) Run(ctx context.Context, runID string, seeds []crawler.Seed) (Stats, error) {
	start := time.Now()
	logger := f.logger.With(zap.String("run_id", runID))
	r := &run{
		Frontier: f,
		id:       runID,
		logger:   logger,
		visited:  make(map[string]struct{}),
	}

	results, unsubscribe := f.pipeline.Subscribe(runID, f.cfg.Concurrency*4)
	defer unsubscribe()
	total := make(chan int64, 1)
	collected := make(chan error, 1)
	go func() { collected <- r.collect(ctx, results, total) }()

	f.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart})
	logger.Info("run started", zap.Int("seeds", len(seeds)))

	var chains errgroup.Group
	chains.SetLimit(f.cfg.Concurrency)
	r.details.SetLimit(f.cfg.Concurrency)
	for _, seed := range seeds {
		chains.Go(func() error {
			r.walkSeed(ctx, seed)
			return nil
		})
	}
	_ = chains.Wait()
	_ = r.details.Wait()

	total <- r.enqueued.Load()
	err := <-collected

	stats := r.snapshot()
	stats.Duration = time.Since(start)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		f.emit(progress.Event{RunID: runID, Stage: progress.StageRunError, Dur: stats.Duration, Note: err.Error()})
		metrics.ObserveRun(string(crawler.RunFailed))
		logger.Warn("run aborted", zap.Error(err), zap.Duration("dur", stats.Duration))
		return stats, fmt.Errorf("run %s: %w", runID, err)
	}
	f.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, Dur: stats.Duration})
	metrics.ObserveRun(string(crawler.RunSucceeded))
	logger.Info("run finished",
		zap.Int64("listing_pages", stats.ListingPages),
		zap.Int64("detail_tasks", stats.DetailTasks),
		zap.Int64("created", stats.Created),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("dropped", stats.Dropped),
		zap.Duration("dur", stats.Duration),
	)
	return stats, nil
}

func (f *Frontier) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = f.clock.Now()
	}
	f.events.Emit(evt)
}

// run holds the mutable state of one Run call.
type run struct {
	*Frontier
	id     string
	logger *zap.Logger

	details  errgroup.Group
	enqueued atomic.Int64
	fetches  atomic.Int64
	promoted atomic.Int64

	mu       sync.Mutex
	visited  map[string]struct{}
	counters crawler.RunCounters
}

// walkSeed follows one seed's listing pages in order. Page N+1 is only
// requested after page N has been processed.
func (r *run) walkSeed(ctx context.Context, seed crawler.Seed) {
	pageURL := r.profile.ListingPage(seed, 1)
	for page := 1; page <= r.cfg.MaxPages && pageURL != ""; page++ {
		if ctx.Err() != nil {
			return
		}
		task := crawler.CrawlTask{
			URL:     pageURL,
			Stage:   crawler.StageListing,
			Keyword: seed.Keyword,
			City:    seed.City,
			Page:    page,
			State:   crawler.TaskInFlight,
		}
		if !r.visit("listing:" + pageURL) {
			r.finish(task, crawler.OutcomeSkippedVisited, nil)
			return
		}
		next, err := r.processListing(ctx, task)
		if err != nil {
			r.finish(task, crawler.ClassifyError(err), err)
			return
		}
		r.finish(task, crawler.OutcomeListed, nil)
		pageURL = next
	}
}

func (r *run) processListing(ctx context.Context, task crawler.CrawlTask) (string, error) {
	resp, err := r.fetch(ctx, task.URL)
	if err != nil {
		return "", err
	}
	doc, err := extract.NewDocument(resp)
	if err != nil {
		return "", fmt.Errorf("decode listing: %w", err)
	}

	links := r.profile.Links.DetailLinks(doc)
	r.logger.Debug("listing processed",
		zap.String("url", task.URL),
		zap.Int("page", task.Page),
		zap.Int("links", len(links)),
	)
	for _, link := range links {
		detail := crawler.CrawlTask{
			URL:     link,
			Stage:   crawler.StageDetail,
			Keyword: task.Keyword,
			City:    task.City,
			Page:    task.Page,
			State:   crawler.TaskQueued,
		}
		r.details.Go(func() error {
			r.processDetail(ctx, detail)
			return nil
		})
	}

	next, ok := r.profile.Links.Next(doc)
	if !ok {
		return "", nil
	}
	return next, nil
}

func (r *run) processDetail(ctx context.Context, task crawler.CrawlTask) {
	if ctx.Err() != nil {
		r.finish(task, crawler.OutcomeFetchError, ctx.Err())
		return
	}
	task.State = crawler.TaskInFlight
	if !r.visit(task.URL) {
		r.finish(task, crawler.OutcomeSkippedVisited, nil)
		return
	}
	if r.known(ctx, task.URL) {
		r.finish(task, crawler.OutcomeDuplicate, nil)
		return
	}

	resp, err := r.fetch(ctx, task.URL)
	if err != nil {
		r.finish(task, crawler.ClassifyError(err), err)
		return
	}
	r.archiveBody(ctx, resp)

	doc, err := extract.NewDocument(resp)
	if err != nil {
		r.finish(task, crawler.OutcomeUndecodable, err)
		return
	}
	result := r.extractor.Extract(doc)
	sourceURL, err := r.profile.ResolveSourceURL(doc)
	if err != nil {
		r.finish(task, crawler.OutcomeUndecodable, fmt.Errorf("%w: source url: %v", crawler.ErrUndecodable, err))
		return
	}
	posting, err := extract.ToPosting(result, sourceURL, r.profile.SourceWebsite, r.clock.Now())
	if err != nil {
		r.finish(task, crawler.ClassifyError(err), err)
		return
	}

	if err := r.pipeline.Enqueue(ctx, crawler.IngestJob{RunID: r.id, Posting: posting}); err != nil {
		r.finish(task, crawler.OutcomePersistenceError, err)
		return
	}
	r.enqueued.Add(1)
}

// known reports whether the detail URL was already ingested. Lookup failures
// fall through to a normal fetch.
func (r *run) known(ctx context.Context, detailURL string) bool {
	if !r.profile.DetailIsSource() {
		return false
	}
	canonical, err := crawler.NormalizeURL(detailURL)
	if err != nil {
		return false
	}
	if r.seen != nil {
		hit, err := r.seen.Seen(ctx, canonical)
		if err != nil {
			r.logger.Debug("seen cache lookup failed", zap.String("url", canonical), zap.Error(err))
		} else if hit && (r.cfg.TrustSeenCache || r.store == nil) {
			return true
		}
	}
	if r.store != nil {
		_, found, err := r.store.FindBySourceURL(ctx, canonical)
		if err != nil {
			r.logger.Debug("store lookup failed", zap.String("url", canonical), zap.Error(err))
			return false
		}
		return found
	}
	return false
}

// fetch applies rate limiting and headless promotion. Non-2xx responses are
// returned as *crawler.HTTPStatusError.
func (r *run) fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("rate limit: %w", err)
		}
	}
	start := time.Now()
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: r.headers.Clone()})
	if err == nil && r.headless != nil && r.detector != nil && r.detector.ShouldPromote(resp) {
		metrics.ObserveHeadlessPromotion(metrics.SanitizeSite(rawURL))
		rendered, herr := r.headless.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Headers: r.headers.Clone()})
		if herr != nil {
			r.logger.Warn("headless fetch failed, keeping plain response", zap.String("url", rawURL), zap.Error(herr))
		} else {
			resp = rendered
			resp.UsedHeadless = true
			r.promoted.Add(1)
		}
	}
	r.fetches.Add(1)

	evt := progress.Event{
		RunID:       r.id,
		Stage:       progress.StageFetchDone,
		Site:        crawler.Host(rawURL),
		URL:         rawURL,
		StatusClass: progress.StatusOther,
		Dur:         time.Since(start),
	}
	if err != nil {
		evt.Note = err.Error()
		r.emit(evt)
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	evt.StatusClass = progress.ClassifyStatus(resp.StatusCode)
	evt.Bytes = int64(len(resp.Body))
	evt.Headless = resp.UsedHeadless
	r.emit(evt)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &crawler.HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (r *run) archiveBody(ctx context.Context, resp crawler.FetchResponse) {
	if r.archive == nil || r.hasher == nil || len(resp.Body) == 0 {
		return
	}
	digest, err := r.hasher.Hash(resp.Body)
	if err != nil {
		r.logger.Warn("hash body", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	objectPath := archivePath(r.cfg.ArchivePrefix, r.id, digest, resp.ContentType())
	uri, err := r.archive.PutObject(ctx, objectPath, resp.ContentType(), bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Warn("archive body", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	r.logger.Debug("archived body", zap.String("url", resp.URL), zap.String("uri", uri))
}

func archivePath(prefix, runID, digest, contentType string) string {
	ext := ".html"
	if strings.Contains(strings.ToLower(contentType), "json") {
		ext = ".json"
	}
	parts := []string{runID, digest + ext}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "/")
}

// visit marks key as seen in this run and reports whether it was new.
func (r *run) visit(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[key]; ok {
		return false
	}
	r.visited[key] = struct{}{}
	return true
}

// finish moves a task to its terminal state.
func (r *run) finish(task crawler.CrawlTask, outcome crawler.Outcome, err error) {
	task.State = outcome.State()
	r.mu.Lock()
	r.counters.Record(task.Stage, outcome)
	r.mu.Unlock()

	metrics.ObserveTask(string(task.Stage), string(task.State), string(outcome))
	r.emit(progress.Event{
		RunID:   r.id,
		Stage:   progress.StageTaskDone,
		Site:    crawler.Host(task.URL),
		URL:     task.URL,
		Task:    task.Stage,
		Outcome: outcome,
	})

	fields := []zap.Field{
		zap.String("url", task.URL),
		zap.String("stage", string(task.Stage)),
		zap.String("state", string(task.State)),
		zap.String("outcome", string(outcome)),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fields = append(fields, zap.Error(err))
	}
	switch task.State {
	case crawler.TaskDropped:
		r.logger.Info("task dropped", fields...)
	default:
		r.logger.Debug("task done", fields...)
	}
}

// collect folds ingest results into the run until want results arrived.
func (r *run) collect(ctx context.Context, results <-chan crawler.IngestResult, total <-chan int64) error {
	var got int64
	want := int64(-1)
	for want < 0 || got < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-total:
			want = n
			total = nil
		case res := <-results:
			got++
			task := crawler.CrawlTask{URL: res.SourceURL, Stage: crawler.StageDetail}
			if res.Outcome == crawler.OutcomePersistenceError {
				r.logger.Error("ingest failed",
					zap.String("source_url", res.SourceURL),
					zap.Error(res.Err),
				)
			}
			r.finish(task, res.Outcome, res.Err)
		}
	}
	return nil
}

func (r *run) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := r.counters
	counters.ByOutcome = make(map[crawler.Outcome]int64, len(r.counters.ByOutcome))
	for k, v := range r.counters.ByOutcome {
		counters.ByOutcome[k] = v
	}
	return Stats{
		RunCounters: counters,
		Fetches:     r.fetches.Load(),
		Headless:    r.promoted.Load(),
	}
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}
