// Package runner creates crawl runs and executes them on the frontier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
)

// ErrNoSeeds is returned when neither the caller nor the defaults supply seeds.
var ErrNoSeeds = errors.New("at least one seed is required")

// Crawler executes one run. *frontier.Frontier satisfies it.
type Crawler interface {
	Run(ctx context.Context, runID string, seeds []crawler.Seed) (frontier.Stats, error)
}

// Config holds run defaults.
type Config struct {
	Seeds []crawler.Seed
	// Timeout caps a single run; zero means no limit.
	Timeout time.Duration
}

// Runner owns the lifecycle of crawl runs. It records the queued run; status
// and counters follow from the frontier's progress events.
type Runner struct {
	runs   crawler.RunStore
	engine Crawler
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// New constructs a Runner. Close must be called to stop background runs.
func New(
	engine Crawler,
	runs crawler.RunStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		runs:   runs,
		engine: engine,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// Submit records a queued run and executes it in the background.
func (r *Runner) Submit(ctx context.Context, seeds []crawler.Seed) (crawler.Run, error) {
	run, err := r.create(ctx, seeds)
	if err != nil {
		return crawler.Run{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(r.ctx, run)
	}()
	return run, nil
}

// Execute records a run and blocks until it finishes.
func (r *Runner) Execute(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error) {
	run, err := r.create(ctx, seeds)
	if err != nil {
		return crawler.Run{}, frontier.Stats{}, err
	}
	stats, err := r.execute(ctx, run)
	return run, stats, err
}

// Get returns a run by ID.
func (r *Runner) Get(ctx context.Context, runID string) (crawler.Run, error) {
	run, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Active returns the number of runs in flight.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Close cancels background runs and waits for them to stop.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) create(ctx context.Context, seeds []crawler.Seed) (crawler.Run, error) {
	if len(seeds) == 0 {
		seeds = r.cfg.Seeds
	}
	if len(seeds) == 0 {
		return crawler.Run{}, ErrNoSeeds
	}
	id, err := r.ids.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{
		ID:        id,
		Status:    crawler.RunQueued,
		Seeds:     append([]crawler.Seed(nil), seeds...),
		Submitted: r.clock.Now(),
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run crawler.Run) (frontier.Stats, error) {
	r.mu.Lock()
	r.active[run.ID] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, run.ID)
		r.mu.Unlock()
	}()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	logger := r.logger.With(zap.String("run_id", run.ID))
	stats, err := r.engine.Run(ctx, run.ID, run.Seeds)
	if err != nil {
		logger.Warn("run failed", zap.Error(err))
		return stats, fmt.Errorf("execute run: %w", err)
	}
	logger.Info("run complete",
		zap.Int64("created", stats.Created),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("dropped", stats.Dropped),
	)
	return stats, nil
}
