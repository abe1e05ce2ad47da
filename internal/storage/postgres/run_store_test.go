package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func newTestRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRunStore(mock, fixedClock{t: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestRunStoreCreateRun(t *testing.T) {
	t.Parallel()

	store, mock := newTestRunStore(t)
	run := crawler.Run{
		ID:        "run-1",
		Status:    crawler.RunQueued,
		Seeds:     []crawler.Seed{{Keyword: "golang", City: "530"}},
		Submitted: testNow,
	}
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "queued", []byte(`[{"keyword":"golang","city":"530"}]`), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateStatusMissingRun(t *testing.T) {
	t.Parallel()

	store, mock := newTestRunStore(t)
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("running", "", testNow, "run-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateRunStatus(context.Background(), "run-x", crawler.RunRunning, "")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreAddCounters(t *testing.T) {
	t.Parallel()

	store, mock := newTestRunStore(t)
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(int64(1), int64(2), int64(1), int64(0), int64(1),
			[]byte(`{"created":1,"http-status":1}`), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.AddCounters(context.Background(), "run-1", crawler.RunCounters{
		ListingPages: 1,
		DetailTasks:  2,
		Created:      1,
		Dropped:      1,
		ByOutcome: map[crawler.Outcome]int64{
			crawler.OutcomeCreated:    1,
			crawler.OutcomeHTTPStatus: 1,
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	store, mock := newTestRunStore(t)
	rows := pgxmock.NewRows([]string{
		"id", "status", "seeds", "submitted_at", "started_at", "finished_at", "error_text",
		"listing_pages", "detail_tasks", "created", "duplicates", "dropped", "by_outcome",
	}).AddRow(
		"run-1", "succeeded", []byte(`[{"keyword":"go","city":"530"}]`), testNow, &testNow, &testNow, "",
		int64(3), int64(10), int64(7), int64(2), int64(1), []byte(`{"created":7}`),
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunSucceeded, run.Status)
	require.Equal(t, []crawler.Seed{{Keyword: "go", City: "530"}}, run.Seeds)
	require.Equal(t, int64(7), run.Counters.Created)
	require.Equal(t, int64(7), run.Counters.ByOutcome[crawler.OutcomeCreated])
	require.NotNil(t, run.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunMissing(t *testing.T) {
	t.Parallel()

	store, mock := newTestRunStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
