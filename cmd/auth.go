package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-to-mbox/auth"
	"github.com/dhcgn/mailbox-to-mbox/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the cached access token for the mailbox API",
	Long: `Manage the cached access token for the mailbox API.

The token itself is obtained externally (device-code login, az cli, ...);
this command only stores, inspects or clears it. Without flags the current
token state is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAuth(cmd)
		if err != nil {
			return err
		}

		cache, err := auth.NewFileCache(cfg.CacheDir)
		if err != nil {
			return err
		}

		if cfg.Clear {
			if err := cache.Clear(); err != nil {
				return err
			}
			pterm.Success.Println("Access token cleared")
			return nil
		}

		token := cfg.SetToken
		if cfg.TokenStdin {
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				return fmt.Errorf("no token on stdin")
			}
			token = strings.TrimSpace(scanner.Text())
		}

		if token != "" {
			var expiresAt time.Time
			if cfg.ExpiresIn > 0 {
				expiresAt = time.Now().Add(cfg.ExpiresIn)
			}
			if err := cache.Save(token, expiresAt); err != nil {
				return err
			}
			if expiresAt.IsZero() {
				pterm.Success.Println("Access token stored")
			} else {
				pterm.Success.Printf("Access token stored, expires %s\n", expiresAt.Format(time.RFC3339))
			}
			return nil
		}

		present, expiresAt, err := cache.Status()
		if err != nil {
			return err
		}
		if !present {
			pterm.Warning.Println("No access token cached")
			return nil
		}
		if !expiresAt.IsZero() {
			pterm.Info.Printf("Access token cached, expires %s\n", expiresAt.Format(time.RFC3339))
		} else {
			pterm.Info.Println("Access token cached (no expiry recorded)")
		}
		return nil
	},
}

func init() {
	config.RegisterAuthFlags(authCmd)
	rootCmd.AddCommand(authCmd)
}
