package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// RunStore implements crawler.RunStore on the crawl_runs table.
type RunStore struct {
	pool  dbPool
	clock crawler.Clock
}

// NewRunStore wraps a pool (a *pgxpool.Pool or a pgxmock pool).
func NewRunStore(pool dbPool, clock crawler.Clock) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool, clock: clock}, nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	seeds, err := json.Marshal(run.Seeds)
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	query := `
		INSERT INTO crawl_runs (id, status, seeds, submitted_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, string(run.Status), seeds, run.Submitted); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus sets the status, stamping started_at/finished_at once.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status crawler.RunStatus, errText string) error {
	query := `
		UPDATE crawl_runs
		SET status = $1,
			error_text = $2,
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, $3) ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('succeeded', 'failed') THEN $3 ELSE finished_at END
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, string(status), errText, s.clock.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	return nil
}

// AddCounters increments the run's counters.
func (s *RunStore) AddCounters(ctx context.Context, runID string, delta crawler.RunCounters) error {
	outcomes := delta.ByOutcome
	if outcomes == nil {
		outcomes = map[crawler.Outcome]int64{}
	}
	byOutcome, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	query := `
		UPDATE crawl_runs
		SET listing_pages = listing_pages + $1,
			detail_tasks = detail_tasks + $2,
			created = created + $3,
			duplicates = duplicates + $4,
			dropped = dropped + $5,
			by_outcome = (
				SELECT COALESCE(jsonb_object_agg(key, total), '{}'::jsonb)
				FROM (
					SELECT key, SUM(value::bigint) AS total
					FROM (
						SELECT * FROM jsonb_each_text(by_outcome)
						UNION ALL
						SELECT * FROM jsonb_each_text(COALESCE($6::jsonb, '{}'::jsonb))
					) merged
					GROUP BY key
				) summed
			)
		WHERE id = $7;
	`
	res, err := s.pool.Exec(ctx, query,
		delta.ListingPages,
		delta.DetailTasks,
		delta.Created,
		delta.Duplicates,
		delta.Dropped,
		byOutcome,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	query := `
		SELECT id, status, seeds, submitted_at, started_at, finished_at, error_text,
			listing_pages, detail_tasks, created, duplicates, dropped, by_outcome
		FROM crawl_runs
		WHERE id = $1;
	`
	var (
		run       crawler.Run
		status    string
		seeds     []byte
		byOutcome []byte
		started   *time.Time
		finished  *time.Time
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&status,
		&seeds,
		&run.Submitted,
		&started,
		&finished,
		&run.ErrorText,
		&run.Counters.ListingPages,
		&run.Counters.DetailTasks,
		&run.Counters.Created,
		&run.Counters.Duplicates,
		&run.Counters.Dropped,
		&byOutcome,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
		}
		return crawler.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	run.Started = started
	run.Finished = finished
	if len(seeds) > 0 {
		if err := json.Unmarshal(seeds, &run.Seeds); err != nil {
			return crawler.Run{}, fmt.Errorf("decode seeds: %w", err)
		}
	}
	if len(byOutcome) > 0 {
		if err := json.Unmarshal(byOutcome, &run.Counters.ByOutcome); err != nil {
			return crawler.Run{}, fmt.Errorf("decode outcomes: %w", err)
		}
	}
	return run, nil
}
