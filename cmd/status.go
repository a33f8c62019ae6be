package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-to-mbox/auth"
	"github.com/dhcgn/mailbox-to-mbox/config"
	"github.com/dhcgn/mailbox-to-mbox/mbox"
	"github.com/dhcgn/mailbox-to-mbox/staging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication, staging and archive state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStatus(cmd)
		if err != nil {
			return err
		}

		cache, err := auth.NewFileCache(cfg.CacheDir)
		if err != nil {
			return err
		}

		present, expiresAt, err := cache.Status()
		if err != nil {
			return err
		}
		switch {
		case !present:
			pterm.Warning.Println("No access token cached, run 'mailbox-to-mbox auth' first")
		case !expiresAt.IsZero() && time.Now().After(expiresAt):
			pterm.Warning.Printf("Cached access token expired %s\n", expiresAt.Format(time.RFC3339))
		case !expiresAt.IsZero():
			pterm.Success.Printf("Access token cached, expires %s\n", expiresAt.Format(time.RFC3339))
		default:
			pterm.Success.Println("Access token cached (no expiry recorded)")
		}

		if cfg.InDir != "" {
			store, err := staging.NewStore(cfg.InDir)
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				pterm.Info.Printf("Staging %s: empty\n", cfg.InDir)
			} else {
				pterm.Info.Printf("Staging %s: %d units (%s ... %s)\n", cfg.InDir, len(names), names[0], names[len(names)-1])
			}
		}

		if cfg.Archive != "" {
			count, err := mbox.CountEntries(cfg.Archive)
			if err != nil {
				return fmt.Errorf("inspect archive: %w", err)
			}
			pterm.Info.Printf("Archive %s: %d entries\n", cfg.Archive, count)
		}

		return nil
	},
}

func init() {
	config.RegisterStatusFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
