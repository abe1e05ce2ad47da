package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
	"github.com/JakeFAU/jobcrawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Run(ctx context.Context, runID string, seeds []crawler.Seed) (frontier.Stats, error) {
	args := m.Called(ctx, runID, seeds)
	return args.Get(0).(frontier.Stats), args.Error(1)
}

var defaultSeeds = []crawler.Seed{{Keyword: "golang", City: "shanghai"}}

func newRunner(engine Crawler, cfg Config) (*Runner, *memory.RunStore) {
	clock := fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	runs := memory.NewRunStore(clock)
	return New(engine, runs, staticIDs{id: "run-1"}, clock, cfg, nil), runs
}

func TestExecuteUsesDefaultSeeds(t *testing.T) {
	t.Parallel()

	engine := &mockCrawler{}
	stats := frontier.Stats{RunCounters: crawler.RunCounters{Created: 3}}
	engine.On("Run", mock.Anything, "run-1", defaultSeeds).Return(stats, nil).Once()

	r, runs := newRunner(engine, Config{Seeds: defaultSeeds})
	defer r.Close()

	run, got, err := r.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, int64(3), got.Created)
	engine.AssertExpectations(t)

	stored, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.RunQueued, stored.Status)
	assert.Equal(t, defaultSeeds, stored.Seeds)
}

func TestExecuteRequiresSeeds(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(&mockCrawler{}, Config{})
	defer r.Close()

	_, _, err := r.Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSeeds)
}

func TestExecuteAppliesTimeout(t *testing.T) {
	t.Parallel()

	engine := &mockCrawler{}
	engine.On("Run", mock.Anything, "run-1", defaultSeeds).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(frontier.Stats{}, context.DeadlineExceeded).Once()

	r, _ := newRunner(engine, Config{Seeds: defaultSeeds, Timeout: 20 * time.Millisecond})
	defer r.Close()

	_, _, err := r.Execute(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitRunsInBackground(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	engine := &mockCrawler{}
	engine.On("Run", mock.Anything, "run-1", defaultSeeds).
		Run(func(mock.Arguments) { <-release }).
		Return(frontier.Stats{}, nil).Once()

	r, _ := newRunner(engine, Config{})
	run, err := r.Submit(context.Background(), defaultSeeds)
	require.NoError(t, err)
	assert.Equal(t, crawler.RunQueued, run.Status)

	require.Eventually(t, func() bool { return r.Active() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return r.Active() == 0 }, time.Second, 5*time.Millisecond)
	r.Close()
	engine.AssertExpectations(t)
}

func TestCloseCancelsBackgroundRuns(t *testing.T) {
	t.Parallel()

	engine := &mockCrawler{}
	engine.On("Run", mock.Anything, "run-1", defaultSeeds).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(frontier.Stats{}, context.Canceled).Once()

	r, _ := newRunner(engine, Config{})
	_, err := r.Submit(context.Background(), defaultSeeds)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.Zero(t, r.Active())
}

func TestGetUnknownRun(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(&mockCrawler{}, Config{})
	defer r.Close()
	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
