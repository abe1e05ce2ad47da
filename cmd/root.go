// Package cmd defines the CLI commands for the jobcrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/frontier"
	"github.com/JakeFAU/jobcrawler/internal/server"
)

// App is the surface commands use. *server.App satisfies it.
type App interface {
	Serve(ctx context.Context) error
	Crawl(ctx context.Context, seeds []crawler.Seed) (crawler.Run, frontier.Stats, error)
	Close(ctx context.Context) error
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type (
	appKeyType    struct{}
	configKeyType struct{}
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "jobcrawler",
		Short: "Crawls job boards and ingests postings into the content store.",
		Long: `jobcrawler walks paginated job-board listings for keyword and city
seeds, extracts each posting and creates it in the content store once per
source URL.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKeyType{}, cfg)
			cmd.SetContext(context.WithValue(ctx, appKeyType{}, appInstance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env JOBCRAWLER_* overrides)")

	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// resolveConfig returns the configuration the app was built from.
func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKeyType{}).(config.Config)
	return cfg
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
