package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/progress"
)

// StoreSink folds run events into a crawler.RunStore. Task outcomes are
// collapsed per run so each batch costs one counter update per run.
type StoreSink struct {
	runs   crawler.RunStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided run store.
func NewStoreSink(runs crawler.RunStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{runs: runs, logger: logger}
}

// Consume applies the batch in order. Pending counters for a run are flushed
// before that run's terminal status is written.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.runs == nil {
		return nil
	}
	pending := make(map[string]*crawler.RunCounters)
	var order []string

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageTaskDone:
			delta := pending[evt.RunID]
			if delta == nil {
				delta = &crawler.RunCounters{ByOutcome: make(map[crawler.Outcome]int64)}
				pending[evt.RunID] = delta
				order = append(order, evt.RunID)
			}
			delta.Record(evt.Task, evt.Outcome)
		case progress.StageRunStart:
			if err := s.runs.UpdateRunStatus(ctx, evt.RunID, crawler.RunRunning, ""); err != nil {
				return fmt.Errorf("mark run running: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if delta := pending[evt.RunID]; delta != nil {
				if err := s.runs.AddCounters(ctx, evt.RunID, *delta); err != nil {
					return fmt.Errorf("add run counters: %w", err)
				}
				delete(pending, evt.RunID)
			}
			status := crawler.RunSucceeded
			if evt.Stage == progress.StageRunError {
				status = crawler.RunFailed
			}
			if err := s.runs.UpdateRunStatus(ctx, evt.RunID, status, evt.Note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for _, runID := range order {
		delta, ok := pending[runID]
		if !ok {
			continue
		}
		if err := s.runs.AddCounters(ctx, runID, *delta); err != nil {
			return fmt.Errorf("add run counters: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
