package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-to-mbox/auth"
	"github.com/dhcgn/mailbox-to-mbox/config"
	"github.com/dhcgn/mailbox-to-mbox/filter"
	"github.com/dhcgn/mailbox-to-mbox/graph"
	"github.com/dhcgn/mailbox-to-mbox/progress"
	"github.com/dhcgn/mailbox-to-mbox/runner"
	"github.com/dhcgn/mailbox-to-mbox/staging"
	"github.com/dhcgn/mailbox-to-mbox/stats"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download messages from a mailbox folder into a local staging directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDownload(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg.Common)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()
		slog.SetDefault(logger)
		logger.Info("starting download", "folder", cfg.Folder, "limit", cfg.Limit, "out", cfg.OutDir, "withAttachments", cfg.WithAttachments, "dryRun", cfg.DryRun)

		_, err = runDownload(cmd.Context(), cfg, logger)
		return err
	},
}

func init() {
	if err := config.RegisterDownloadFlags(downloadCmd); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(downloadCmd)
}

// runDownload executes the fetch → stage pipeline. On any fatal error the
// staging directory is left intact so the next run resumes from the units
// already on disk.
func runDownload(ctx context.Context, cfg config.Download, logger *slog.Logger) (stats.Summary, error) {
	rng, err := filter.New(filter.Options{Since: cfg.Since, Until: cfg.Until})
	if err != nil {
		return stats.Summary{}, err
	}

	cache, err := auth.NewFileCache(cfg.CacheDir)
	if err != nil {
		return stats.Summary{}, err
	}

	client, err := graph.NewClient(graph.Options{BaseURL: cfg.BaseURL, Tokens: cache, Logger: logger})
	if err != nil {
		return stats.Summary{}, err
	}

	folderID, err := client.ResolveFolder(ctx, cfg.Folder)
	if err != nil {
		return stats.Summary{}, err
	}

	total, err := client.Total(ctx, folderID, rng)
	if err != nil {
		return stats.Summary{}, err
	}
	if cfg.Limit > 0 && total > cfg.Limit {
		total = cfg.Limit
	}
	logger.Info("folder resolved", "folder", cfg.Folder, "folderID", folderID, "advisoryTotal", total)

	store, err := staging.NewStore(cfg.OutDir)
	if err != nil {
		return stats.Summary{}, err
	}
	existing, err := store.List()
	if err != nil {
		return stats.Summary{}, err
	}

	r := runner.New(logger)
	reporter := stats.NewReporter(r, logger)

	bar := progress.New(total, len(existing), cfg.LogLevel)
	r.SubscribeStats("progress-bar", bar.Subscriber)

	if _, err := graph.NewFetcher(client, graph.FetchOptions{
		FolderID:        folderID,
		Limit:           cfg.Limit,
		Total:           total,
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		WithAttachments: cfg.WithAttachments,
		Range:           rng,
	}, r, logger); err != nil {
		return stats.Summary{}, fmt.Errorf("graph.NewFetcher: %w", err)
	}

	if _, err := staging.NewWriter(store, r, cfg.DryRun, logger); err != nil {
		return stats.Summary{}, fmt.Errorf("staging.NewWriter: %w", err)
	}

	stop := context.AfterFunc(ctx, r.Stop)
	defer stop()

	runErr := r.Start()
	bar.Stop()

	summary := reporter.Summary()
	if runErr != nil {
		return summary, runErr
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if summary.Staged == 0 && summary.Errors > 0 {
		return summary, fmt.Errorf("no records staged, %d errors (last: %v)", summary.Errors, summary.LastError)
	}
	return summary, nil
}
