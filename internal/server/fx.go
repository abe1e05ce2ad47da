// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/api"
	"github.com/JakeFAU/jobcrawler/internal/clock/system"
	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/dispatcher"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	collyfetcher "github.com/JakeFAU/jobcrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/jobcrawler/internal/fetcher/headless"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
	"github.com/JakeFAU/jobcrawler/internal/hash/sha256"
	"github.com/JakeFAU/jobcrawler/internal/headless/detector"
	"github.com/JakeFAU/jobcrawler/internal/id/uuid"
	"github.com/JakeFAU/jobcrawler/internal/ingest"
	"github.com/JakeFAU/jobcrawler/internal/logging"
	"github.com/JakeFAU/jobcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobcrawler/internal/progress"
	progresssinks "github.com/JakeFAU/jobcrawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/jobcrawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/jobcrawler/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/jobcrawler/internal/publisher/redis"
	queuememory "github.com/JakeFAU/jobcrawler/internal/queue/memory"
	"github.com/JakeFAU/jobcrawler/internal/runner"
	"github.com/JakeFAU/jobcrawler/internal/scheduler"
	"github.com/JakeFAU/jobcrawler/internal/search/elastic"
	"github.com/JakeFAU/jobcrawler/internal/seen"
	gcsstorage "github.com/JakeFAU/jobcrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/jobcrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/jobcrawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/jobcrawler/internal/storage/mongodb"
	pgstore "github.com/JakeFAU/jobcrawler/internal/storage/postgres"
	"github.com/JakeFAU/jobcrawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	content   crawler.ContentStore
	runs      crawler.RunStore
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	hub       *progress.Hub
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	// dispatchCancel aborts the ingest workers; dispatchDone closes once they
	// exit, either after the closed queue drains or on abort.
	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}

	readyChecks []api.Option
	closers     []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. The ingest workers start
// immediately; Close stops them.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		if cerr := app.closeAll(context.Background()); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("building application dependencies",
		zap.String("profile", cfg.Crawler.Profile),
		zap.String("store", cfg.Store.Driver),
		zap.String("publisher", cfg.Publisher.Driver),
		zap.String("archive", cfg.Archive.Driver),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     cfg.Telemetry.Version,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.onClose("tracer", tp.Shutdown)
	}

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	if err := a.setupStores(ctx, ids, clock); err != nil {
		return err
	}
	cache, err := a.setupSeenCache(ctx)
	if err != nil {
		return err
	}
	publishers, err := a.setupPublishers(ctx)
	if err != nil {
		return err
	}

	ingestOpts := []ingest.Option{ingest.WithPublishers(publishers...)}
	if cache != nil {
		ingestOpts = append(ingestOpts, ingest.WithSeenCache(cache))
	}
	if cfg.Search.Enabled {
		indexer, err := elastic.New(elastic.Config{
			Addresses: cfg.Search.Addresses,
			Username:  cfg.Search.Username,
			Password:  cfg.Search.Password,
			Index:     cfg.Search.Index,
		})
		if err != nil {
			return fmt.Errorf("search indexer init failed: %w", err)
		}
		ingestOpts = append(ingestOpts, ingest.WithIndexer(indexer))
		a.readyChecks = append(a.readyChecks, api.WithReadyCheck("elasticsearch", indexer.Ping))
		a.logger.Info("search indexing enabled", zap.String("index", cfg.Search.Index))
	}
	ingester := ingest.New(a.content, clock, ingest.Config{
		ContainerSlug:  cfg.Ingest.ContainerSlug,
		ContainerTitle: cfg.Ingest.ContainerTitle,
		Topic:          cfg.Ingest.Topic,
		TrustSeenCache: cfg.TrustSeenCache(),
	}, a.logger.Named("ingest"), ingestOpts...)

	a.queue = queuememory.NewQueue(cfg.Ingest.QueueDepth)
	a.dispatch = dispatcher.New(a.queue, ingester, cfg.Ingest.Workers, a.logger.Named("dispatcher"))
	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.dispatchCancel = cancel
	a.dispatchDone = make(chan struct{})
	go func() {
		defer close(a.dispatchDone)
		a.dispatch.Run(dispatchCtx)
	}()
	a.logger.Info("ingest workers started", zap.Int("workers", cfg.Ingest.Workers))

	if err := a.setupProgress(ctx); err != nil {
		return err
	}

	engine, err := a.setupFrontier(ctx, cache, clock)
	if err != nil {
		return err
	}
	a.runner = runner.New(engine, a.runs, ids, clock, runner.Config{
		Seeds:   cfg.Crawler.Seeds(),
		Timeout: cfg.Crawler.RunTimeout,
	}, a.logger.Named("runner"))

	if cfg.Crawler.Schedule != "" {
		a.scheduler, err = scheduler.New(cfg.Crawler.Schedule, a.runner, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(a.runner, a.content, *cfg, a.logger.Named("api"), a.readyChecks...)
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupStores(ctx context.Context, ids crawler.IDGenerator, clock crawler.Clock) error {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.onClose("postgres", func(context.Context) error { pool.Close(); return nil })
		if cfg.Postgres.Migrate {
			if err := pgstore.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
			a.logger.Info("postgres schema migrated")
		}
		return a.usePostgres(pool, ids, clock)
	case "mongo":
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		}, ids, clock)
		if err != nil {
			return fmt.Errorf("mongo init failed: %w", err)
		}
		a.onClose("mongo", store.Close)
		a.content = store
		// Runs are operational state; Mongo deployments keep them in process.
		a.runs = memorystorage.NewRunStore(clock)
		a.readyChecks = append(a.readyChecks, api.WithReadyCheck("mongo", store.Ping))
		a.logger.Info("using mongo content store", zap.String("database", cfg.Mongo.Database))
	default:
		a.content = memorystorage.NewContentStore(ids, clock)
		a.runs = memorystorage.NewRunStore(clock)
		a.logger.Info("using in-memory stores")
	}
	return nil
}

func (a *App) usePostgres(pool *pgxpool.Pool, ids crawler.IDGenerator, clock crawler.Clock) error {
	content, err := pgstore.NewContentStore(pool, ids, clock)
	if err != nil {
		return fmt.Errorf("postgres content store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool, clock)
	if err != nil {
		return fmt.Errorf("postgres run store init failed: %w", err)
	}
	a.content = content
	a.runs = runs
	a.readyChecks = append(a.readyChecks, api.WithReadyCheck("postgres", content.Ping))
	a.logger.Info("using postgres stores")
	return nil
}

func (a *App) setupSeenCache(ctx context.Context) (crawler.SeenCache, error) {
	cfg := a.cfg.SeenCache
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Driver == "memory" {
		a.logger.Info("in-memory seen cache enabled")
		return seen.NewMemory(), nil
	}
	client, err := a.connectRedis(ctx, "seen cache", cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.logger.Info("redis seen cache enabled", zap.Duration("ttl", cfg.TTL))
	return seen.NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
}

func (a *App) connectRedis(ctx context.Context, name, redisURL string) (*goredis.Client, error) {
	client, err := seen.Connect(ctx, redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s init failed: %w", name, err)
	}
	a.onClose(name, func(context.Context) error { return client.Close() })
	a.readyChecks = append(a.readyChecks, api.WithReadyCheck(strings.ReplaceAll(name, " ", "_"), func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	return client, nil
}

func (a *App) setupPublishers(ctx context.Context) ([]crawler.Publisher, error) {
	cfg := a.cfg.Publisher
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "redis":
		client, err := a.connectRedis(ctx, "redis publisher", cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.logger.Info("publishing posting events to redis stream", zap.String("stream", a.cfg.Ingest.Topic))
		return []crawler.Publisher{redispublisher.New(client, cfg.Redis.MaxLen)}, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return client.Close() })
		pub := gcppublisher.New(client.Topic(cfg.PubSub.TopicName))
		a.onClose("pubsub topic", func(context.Context) error { pub.Stop(); return nil })
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
		return []crawler.Publisher{pub}, nil
	default:
		a.logger.Info("using in-memory publisher")
		return []crawler.Publisher{memorypublisher.New()}, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Driver {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context) error {
	cfg := a.cfg.Progress
	// The store sink drives run status, so the hub is always built.
	sinkList := []progress.Sink{progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store"))}
	if cfg.Enabled {
		promSink, err := progresssinks.NewPrometheusSink(nil)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		if cfg.LogEnabled {
			sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		}
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupFrontier(ctx context.Context, cache crawler.SeenCache, clock crawler.Clock) (*frontier.Frontier, error) {
	cfg := a.cfg
	profile, err := extract.ProfileByName(cfg.Crawler.Profile, cfg.Crawler.ListingURL, cfg.Crawler.DetailURL, cfg.Crawler.SourceWebsite)
	if err != nil {
		return nil, fmt.Errorf("site profile: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})
	opts := []frontier.Option{frontier.WithEmitter(a.hub)}

	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      cfg.Headless.WaitSelector,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.onClose("headless", func(context.Context) error { headless.Close(); return nil })
		opts = append(opts, frontier.WithHeadless(headless,
			detector.NewHeuristic(cfg.Headless.PromotionThresh, cfg.Headless.ContentMarkers...)))
		a.logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	if cfg.RateLimit.Enabled {
		hosts := make(map[string]ratelimit.HostLimit, len(cfg.RateLimit.Hosts))
		for _, h := range cfg.RateLimit.Hosts {
			hosts[strings.ToLower(h.Host)] = ratelimit.HostLimit{RPS: h.RPS, Burst: h.Burst}
		}
		opts = append(opts, frontier.WithRateLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
			Hosts:        hosts,
		})))
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("host_overrides", len(hosts)),
		)
	}

	if cfg.Crawler.PreCheck {
		opts = append(opts, frontier.WithPreCheck(a.content, cache))
	}

	archive, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		opts = append(opts, frontier.WithArchive(archive, sha256.New()))
	}

	return frontier.New(frontier.Config{
		Concurrency:    cfg.Crawler.Concurrency,
		MaxPages:       cfg.Crawler.MaxPages,
		UserAgent:      cfg.Crawler.UserAgent,
		Referer:        cfg.Crawler.Referer,
		Headers:        cfg.Crawler.Headers,
		ArchivePrefix:  cfg.Archive.Prefix,
		TrustSeenCache: cfg.TrustSeenCache(),
	}, profile, fetcher, a.dispatch, clock, a.logger.Named("frontier"), opts...), nil
}

// Crawl executes one run in the foreground. Empty seeds fall back to the
// configured keyword x city grid.
func (a *App) Crawl(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error) {
	run, stats, err := a.runner.Execute(ctx, seeds)
	if err != nil {
		return run, stats, fmt.Errorf("crawl: %w", err)
	}
	return run, stats, nil
}

// Serve starts the scheduler and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops scheduling and cancels runs, then lets the ingest workers
// finish the queued jobs before flushing progress and releasing resources.
// If ctx ends first, the remaining jobs are discarded. Close reports every
// resource that failed to close.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.runner != nil {
		a.runner.Close()
	}
	err := a.closeAll(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return err
}

func (a *App) closeAll(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.dispatchCancel != nil {
		select {
		case <-a.dispatchDone:
		case <-ctx.Done():
			a.logger.Warn("ingest drain interrupted, discarding queued jobs", zap.Int("queued", a.queue.Len()))
		}
		a.dispatchCancel()
		<-a.dispatchDone
		a.dispatchCancel = nil
	}
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
