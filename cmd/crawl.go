package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-crawler/internal/server"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// newCrawlCmd runs one crawl to completion without starting the HTTP server.
func newCrawlCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "crawl URL",
		Short: "Crawls a single site and prints the outcome of every page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputJSON {
				return fmt.Errorf("unsupported output %q (want %s or %s)", output, outputText, outputJSON)
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			report, crawlErr := app.Crawl(ctx, args[0])
			closeErr := app.Close(context.WithoutCancel(ctx))
			if crawlErr != nil {
				return fmt.Errorf("crawl %s: %w", args[0], crawlErr)
			}
			if closeErr != nil {
				return fmt.Errorf("close application: %w", closeErr)
			}

			if output == outputJSON {
				return writeReportJSON(cmd.OutOrStdout(), report)
			}
			return writeReportText(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")
	return cmd
}

func writeReportJSON(w io.Writer, report server.CrawlReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

func writeReportText(w io.Writer, report server.CrawlReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	failed := 0
	for _, r := range report.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
			failed++
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", status, r.URL); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	_, err := fmt.Fprintf(w, "crawl %s: %d pages, %d failed\n", report.Crawl.ID, report.Crawl.TotalCrawled, failed)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
