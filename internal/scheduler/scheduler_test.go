package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
)

type funcExecutor func(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error)

func (f funcExecutor) Execute(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error) {
	return f(ctx, seeds)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	exec := funcExecutor(func(context.Context, []crawler.Seed) (crawler.Run, frontier.Stats, error) {
		return crawler.Run{}, frontier.Stats{}, nil
	})
	_, err := New("every tuesday", exec, nil)
	require.Error(t, err)

	_, err = New("@hourly", nil, nil)
	require.Error(t, err)
}

func TestSchedulerRunsWithDefaultSeeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	exec := funcExecutor(func(_ context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error) {
		assert.Nil(t, seeds)
		calls.Add(1)
		return crawler.Run{ID: "run-1"}, frontier.Stats{}, nil
	})
	s, err := New("@every 1s", exec, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	assert.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	exec := funcExecutor(func(ctx context.Context, _ []crawler.Seed) (crawler.Run, frontier.Stats, error) {
		calls.Add(1)
		<-ctx.Done()
		return crawler.Run{ID: "run-1"}, frontier.Stats{}, ctx.Err()
	})
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := New("@every 1s", exec, zap.New(core))
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return logs.FilterMessage("skip").Len() > 0 }, 4*time.Second, 20*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("scheduled run failed").Len())
}

func TestCronLoggerError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	cronLogger{logger: zap.New(core)}.Error(errors.New("boom"), "panic", "job", "crawl")

	entries := logs.FilterMessage("panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "crawl", entries[0].ContextMap()["job"])
}
