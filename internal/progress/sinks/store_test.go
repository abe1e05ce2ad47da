package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/progress"
	"github.com/JakeFAU/jobcrawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func taskDone(runID string, stage crawler.Stage, outcome crawler.Outcome) progress.Event {
	return progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageTaskDone, Task: stage, Outcome: outcome}
}

// TestStoreSinkFoldsTaskOutcomes ensures task events collapse into run counters.
func TestStoreSinkFoldsTaskOutcomes(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore(fixedClock{now: time.Unix(100, 0).UTC()})
	require.NoError(t, runs.CreateRun(context.Background(), crawler.Run{ID: "run-1", Status: crawler.RunQueued}))
	sink := NewStoreSink(runs, nil)

	batch := []progress.Event{
		{RunID: "run-1", TS: time.Now(), Stage: progress.StageRunStart},
		taskDone("run-1", crawler.StageListing, crawler.OutcomeListed),
		taskDone("run-1", crawler.StageDetail, crawler.OutcomeCreated),
		taskDone("run-1", crawler.StageDetail, crawler.OutcomeDuplicate),
		taskDone("run-1", crawler.StageDetail, crawler.OutcomeHTTPStatus),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunRunning, run.Status)
	require.Equal(t, int64(1), run.Counters.ListingPages)
	require.Equal(t, int64(3), run.Counters.DetailTasks)
	require.Equal(t, int64(1), run.Counters.Created)
	require.Equal(t, int64(1), run.Counters.Duplicates)
	require.Equal(t, int64(1), run.Counters.Dropped)
	require.Equal(t, int64(1), run.Counters.ByOutcome[crawler.OutcomeHTTPStatus])

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		taskDone("run-1", crawler.StageDetail, crawler.OutcomeCreated),
		{RunID: "run-1", TS: time.Now(), Stage: progress.StageRunDone},
	}))
	run, err = runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunSucceeded, run.Status)
	require.Equal(t, int64(2), run.Counters.Created)
}

// TestStoreSinkRunError records the failure text on the run.
func TestStoreSinkRunError(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore(fixedClock{now: time.Unix(100, 0).UTC()})
	require.NoError(t, runs.CreateRun(context.Background(), crawler.Run{ID: "run-2", Status: crawler.RunQueued}))
	sink := NewStoreSink(runs, nil)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-2", TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: "run-2", TS: time.Now(), Stage: progress.StageRunError, Note: "seed unreachable"},
	}))
	run, err := runs.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	require.Equal(t, crawler.RunFailed, run.Status)
	require.Equal(t, "seed unreachable", run.ErrorText)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRuns{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-3", Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		taskDone("run-3", crawler.StageDetail, crawler.OutcomeCreated),
	})
	require.ErrorContains(t, err, "add run counters")
}

type failingRuns struct{}

var errRunStore = errors.New("run store down")

func (failingRuns) CreateRun(context.Context, crawler.Run) error { return errRunStore }
func (failingRuns) UpdateRunStatus(context.Context, string, crawler.RunStatus, string) error {
	return errRunStore
}
func (failingRuns) AddCounters(context.Context, string, crawler.RunCounters) error { return errRunStore }
func (failingRuns) GetRun(context.Context, string) (crawler.Run, error) {
	return crawler.Run{}, errRunStore
}
