package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
)

type crawlOptions struct {
	keywords []string
	cities   []string
}

// resolve fills in the configured keywords when only cities were given, so
// --city narrows the configured search instead of dropping it.
func (o crawlOptions) resolve(cfg config.CrawlerConfig) (crawlOptions, error) {
	if len(o.cities) == 0 || len(o.keywords) > 0 {
		return o, nil
	}
	if len(cfg.Keywords) == 0 {
		return o, errors.New("--city needs --keyword or configured crawler.keywords")
	}
	o.keywords = cfg.Keywords
	return o, nil
}

// seeds crosses keywords with cities. A keyword with no cities searches nationwide.
func (o crawlOptions) seeds() []crawler.Seed {
	cities := o.cities
	if len(cities) == 0 {
		cities = []string{""}
	}
	var seeds []crawler.Seed
	for _, keyword := range o.keywords {
		for _, city := range cities {
			seeds = append(seeds, crawler.Seed{Keyword: keyword, City: city})
		}
	}
	return seeds
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl in the foreground and prints its counters",
		Long: `Runs a single crawl for the given keywords and cities, or for the
configured crawler.keywords x crawler.cities when no flags are given.
--city alone searches the configured keywords in those cities.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.keywords, "keyword", nil, "search keyword (repeatable)")
	cmd.Flags().StringSliceVar(&opts.cities, "city", nil, "city filter (repeatable)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		run      crawler.Run
		stats    frontier.Stats
		crawlErr error
	)
	opts, crawlErr = opts.resolve(resolveConfig(cmd.Context()).Crawler)
	if crawlErr == nil {
		run, stats, crawlErr = appInstance.Crawl(ctx, opts.seeds())
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 30*time.Second)
	defer cancel()
	if err := appInstance.Close(closeCtx); err != nil {
		crawlErr = errors.Join(crawlErr, fmt.Errorf("close: %w", err))
	}

	out := cmd.OutOrStdout()
	if run.ID != "" {
		fmt.Fprintf(out, "run %s: created=%d duplicates=%d dropped=%d listing_pages=%d detail_tasks=%d fetches=%d duration=%s\n",
			run.ID, stats.Created, stats.Duplicates, stats.Dropped,
			stats.ListingPages, stats.DetailTasks, stats.Fetches, stats.Duration.Round(time.Millisecond))
	}
	return crawlErr
}
