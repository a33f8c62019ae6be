package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-to-mbox/config"
	"github.com/dhcgn/mailbox-to-mbox/staging"
)

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Download a folder and encode it into an mbox archive in one run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFull(cmd)
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
		logger.Info("starting full run", "folder", cfg.Folder, "out", cfg.OutFile, "staging", cfg.StagingDir, "compress", cfg.Compress)

		if _, err := runDownload(cmd.Context(), cfg.Download, logger); err != nil {
			// staging stays on disk so a re-run resumes without re-fetching
			return err
		}

		exportCfg := config.Export{
			Common:   cfg.Common,
			InDir:    cfg.StagingDir,
			OutFile:  cfg.OutFile,
			Compress: cfg.Compress,
		}
		if _, err := runExport(cmd.Context(), exportCfg, logger); err != nil {
			return err
		}

		if cfg.KeepStaging {
			logger.Info("keeping staging directory", "dir", cfg.StagingDir)
			return nil
		}

		store, err := staging.NewStore(cfg.StagingDir)
		if err != nil {
			return err
		}
		if err := store.RemoveAll(); err != nil {
			logger.Warn("staging cleanup failed", "dir", cfg.StagingDir, "err", err)
			return nil
		}
		logger.Info("staging directory removed", "dir", cfg.StagingDir)
		return nil
	},
}

func init() {
	if err := config.RegisterFullFlags(fullCmd); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(fullCmd)
}
