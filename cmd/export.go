package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-to-mbox/config"
	"github.com/dhcgn/mailbox-to-mbox/filter"
	"github.com/dhcgn/mailbox-to-mbox/mbox"
	"github.com/dhcgn/mailbox-to-mbox/progress"
	"github.com/dhcgn/mailbox-to-mbox/staging"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Encode staged messages into a single mbox archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadExport(cmd)
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
		logger.Info("starting export", "in", cfg.InDir, "out", cfg.OutFile, "compress", cfg.Compress)

		_, err = runExport(cmd.Context(), cfg, logger)
		return err
	},
}

func init() {
	if err := config.RegisterExportFlags(exportCmd); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, cfg config.Export, logger *slog.Logger) (mbox.Summary, error) {
	rng, err := filter.New(filter.Options{Since: cfg.Since, Until: cfg.Until})
	if err != nil {
		return mbox.Summary{}, err
	}

	store, err := staging.NewStore(cfg.InDir)
	if err != nil {
		return mbox.Summary{}, err
	}
	names, err := store.List()
	if err != nil {
		return mbox.Summary{}, err
	}
	if len(names) == 0 {
		return mbox.Summary{}, fmt.Errorf("no staged units in %s", cfg.InDir)
	}

	bar := progress.NewEncodeBar(len(names), cfg.LogLevel)
	summary, err := mbox.Encode(ctx, store, cfg.OutFile, mbox.Options{
		Compress: cfg.Compress,
		Range:    rng,
		Progress: bar.Set,
	}, logger)
	bar.Stop()

	if err != nil {
		return summary, err
	}
	if summary.Encoded == 0 && summary.Skipped > 0 {
		return summary, fmt.Errorf("no records could be encoded (%d skipped)", summary.Skipped)
	}
	logger.Info("export finished", "entries", summary.Encoded, "skipped", summary.Skipped, "filtered", summary.Filtered, "out", cfg.OutFile)
	return summary, nil
}
