package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/server"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
)

// cfgKeyType is the key for storing the loaded Config in the command context.
type cfgKeyType struct{}

// application is what the commands need from a built server.App. Tests swap
// in a fake through buildApp.
type application interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context, rawURL string) (server.CrawlReport, error)
	Close(ctx context.Context) error
}

var buildApp = func(ctx context.Context, cfg *config.Config) (application, error) {
	return server.Build(ctx, cfg)
}

var runMigrations = postgres.Migrate

// newRootCmd creates the root command and registers every subcommand.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitemap-crawler",
		Short: "Crawls a site breadth-first from a seed URL and reports every page it reached.",
		Long: `sitemap-crawler follows same-domain links from a seed URL, records whether
each page could be fetched, streams live progress, and exports a sitemap of the
pages it reached when the crawl completes.`,
		SilenceUsage: true,

		// Runs before every subcommand: load .env, then the config, and hand
		// the result to the subcommand through its context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
