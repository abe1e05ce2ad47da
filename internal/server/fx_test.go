package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func newJobBoard(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, "<html><body><ul></ul></body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><ul>
<li><a class="job-link" href="/job/1">one</a></li>
<li><a class="job-link" href="/job/2">two</a></li>
</ul></body></html>`)
	})
	mux.HandleFunc("/job/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body>
<h1 class="job-title">Go Developer %s</h1>
<div class="company-name">Acme</div>
<div class="job-description"><p>Build crawlers.</p></div>
</body></html>`, filepath.Base(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, board string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Progress.Enabled = false
	cfg.Crawler.Profile = "generic"
	cfg.Crawler.ListingURL = board + "/search?q={keyword}&city={city}&page={page}"
	cfg.Crawler.DetailURL = board + "/job/{id}"
	cfg.Crawler.SourceWebsite = "Test Board"
	cfg.Crawler.Keywords = []string{"golang"}
	cfg.Crawler.Cities = []string{"shanghai"}
	cfg.Archive.Driver = "local"
	cfg.Archive.Local.BaseDir = t.TempDir()
	return &cfg
}

func TestBuildAndCrawlEndToEnd(t *testing.T) {
	board := newJobBoard(t)
	cfg := testConfig(t, board.URL)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	run, stats, err := app.Crawl(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, int64(2), stats.DetailTasks)

	require.NoError(t, app.Close(context.Background()))

	stored, err := app.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.RunSucceeded, stored.Status)
	assert.Equal(t, int64(2), stored.Counters.Created)

	posting, found, err := app.content.FindBySourceURL(context.Background(), board.URL+"/job/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Go Developer 1", posting.Title)

	var archived int
	err = filepath.WalkDir(cfg.Archive.Local.BaseDir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			archived++
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, archived)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.SeenCache.Enabled = true
	cfg.SeenCache.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Build(ctx, cfg)
	require.ErrorContains(t, err, "seen cache init failed")
}

func TestCloseDrainsQueuedIngest(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Ingest.Workers = 1
	cfg.Ingest.QueueDepth = 16

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	urls := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://jobs.test/job/%d", i)
		urls = append(urls, u)
		require.NoError(t, app.dispatch.Enqueue(context.Background(), crawler.IngestJob{
			RunID: "run-drain",
			Posting: crawler.JobPosting{
				Title:       fmt.Sprintf("Dev %d", i),
				CompanyName: "Acme",
				JobType:     crawler.JobTypeFullTime,
				SourceURL:   u,
				PublishedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			},
		}))
	}

	require.NoError(t, app.Close(context.Background()))
	for _, u := range urls {
		_, found, err := app.content.FindBySourceURL(context.Background(), u)
		require.NoError(t, err)
		assert.True(t, found, "queued posting %s was not ingested before shutdown", u)
	}
}

func TestCloseReportsCloserErrors(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	app.onClose("broken sink", func(context.Context) error { return errors.New("flush failed") })

	err = app.Close(context.Background())
	require.ErrorContains(t, err, "close broken sink: flush failed")
}

func TestBuildWithMemorySeenCache(t *testing.T) {
	board := newJobBoard(t)
	cfg := testConfig(t, board.URL)
	cfg.SeenCache.Enabled = true
	cfg.SeenCache.Driver = "memory"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	_, first, err := app.Crawl(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Created)

	_, second, err := app.Crawl(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, int64(2), second.Duplicates)
}
