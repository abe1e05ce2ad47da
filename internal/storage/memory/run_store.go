package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// RunStore keeps crawl runs in memory for the API.
type RunStore struct {
	mu    sync.RWMutex
	clock crawler.Clock
	runs  map[string]crawler.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore(clock crawler.Clock) *RunStore {
	return &RunStore{
		clock: clock,
		runs:  make(map[string]crawler.Run),
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus moves a run to status, stamping start and finish times.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status crawler.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	now := s.clock.Now()
	if status == crawler.RunRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if isTerminal(status) {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// AddCounters folds delta into the run's counters.
func (s *RunStore) AddCounters(_ context.Context, runID string, delta crawler.RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	c := &run.Counters
	c.ListingPages += delta.ListingPages
	c.DetailTasks += delta.DetailTasks
	c.Created += delta.Created
	c.Duplicates += delta.Duplicates
	c.Dropped += delta.Dropped
	if len(delta.ByOutcome) > 0 && c.ByOutcome == nil {
		c.ByOutcome = make(map[crawler.Outcome]int64, len(delta.ByOutcome))
	}
	for k, v := range delta.ByOutcome {
		c.ByOutcome[k] += v
	}
	s.runs[runID] = run
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	if run.Counters.ByOutcome != nil {
		byOutcome := make(map[crawler.Outcome]int64, len(run.Counters.ByOutcome))
		for k, v := range run.Counters.ByOutcome {
			byOutcome[k] = v
		}
		run.Counters.ByOutcome = byOutcome
	}
	return run, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status crawler.RunStatus) bool {
	switch status {
	case crawler.RunSucceeded, crawler.RunFailed:
		return true
	default:
		return false
	}
}
