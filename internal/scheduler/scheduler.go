// Package scheduler starts crawl runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
)

// Executor runs one crawl to completion. *runner.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error)
}

// Scheduler triggers a run with the default seeds on every tick. A tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	exec   Executor
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses schedule (standard five-field cron or a descriptor such as
// "@every 6h") and registers the crawl job.
func New(schedule string, exec Executor, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		exec:   exec,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next", s.Next()))
}

// Next reports when the crawl job fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts the schedule, cancels a run in progress and waits for it.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-stopped.Done()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	run, stats, err := s.exec.Execute(ctx, nil)
	if err != nil {
		s.logger.Error("scheduled run failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("run_id", run.ID),
		zap.Int64("created", stats.Created),
		zap.Int64("duplicates", stats.Duplicates),
	)
}

// cronLogger adapts zap to cron.Logger. Cron's own chatter goes to debug.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append([]any{"error", err}, keysAndValues...)...)
}
