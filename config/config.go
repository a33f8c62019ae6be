package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Common captures the options shared by every subcommand, registered as
// persistent flags on the root command.
type Common struct {
	BaseURL  string
	CacheDir string
	LogLevel string
	LogDir   string
}

// RegisterCommonFlags attaches the shared flags to the root command.
func RegisterCommonFlags(cmd *cobra.Command) error {
	defaultCacheDir, err := defaultCacheDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("base-url", "https://graph.microsoft.com/v1.0", "Base URL of the mailbox API")
	flags.String("cache-dir", defaultCacheDir, "Directory holding the cached access token")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (disabled when empty)")
	return nil
}

// LoadCommon converts the parsed shared flags into a Common struct.
func LoadCommon(cmd *cobra.Command) (Common, error) {
	flags := cmd.Flags()

	baseURL, err := flags.GetString("base-url")
	if err != nil {
		return Common{}, err
	}
	cacheDir, err := flags.GetString("cache-dir")
	if err != nil {
		return Common{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Common{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Common{}, err
	}

	if cacheDir == "" {
		cacheDir, err = defaultCacheDir()
		if err != nil {
			return Common{}, err
		}
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Common{
		BaseURL:  strings.TrimSpace(baseURL),
		CacheDir: filepath.Clean(cacheDir),
		LogLevel: logLevel,
		LogDir:   logDir,
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Common{}, fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}
	if cfg.BaseURL == "" {
		return Common{}, fmt.Errorf("--base-url must not be empty")
	}

	return cfg, nil
}

// Download holds the options of the download command.
type Download struct {
	Common
	Folder          string
	Limit           int
	BatchSize       int
	MaxRetries      int
	Since           string
	Until           string
	OutDir          string
	WithAttachments bool
	DryRun          bool
}

// RegisterDownloadFlags attaches the download flags to the command.
func RegisterDownloadFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("folder", "inbox", "Mailbox folder: a well-known name (inbox, sentitems, drafts, ...) or a display name")
	flags.Int("limit", 0, "Maximum number of messages to download (0 = all)")
	flags.Int("batch-size", 50, "Messages requested per page")
	flags.Int("max-retries", 3, "Retry attempts for transient page failures")
	flags.String("since", "", "Only messages received at or after this time (RFC 3339 or 2006-01-02)")
	flags.String("until", "", "Only messages received at or before this time (RFC 3339 or 2006-01-02)")
	flags.String("out", "", "Staging directory for downloaded messages")
	flags.Bool("with-attachments", false, "Also fetch attachment content for flagged messages")
	flags.Bool("dry-run", false, "Fetch and count without writing staged units")

	return cmd.MarkFlagRequired("out")
}

// LoadDownload converts the parsed flags into a validated Download config.
func LoadDownload(cmd *cobra.Command) (Download, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Download{}, err
	}

	flags := cmd.Flags()

	folder, err := flags.GetString("folder")
	if err != nil {
		return Download{}, err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return Download{}, err
	}
	batchSize, err := flags.GetInt("batch-size")
	if err != nil {
		return Download{}, err
	}
	maxRetries, err := flags.GetInt("max-retries")
	if err != nil {
		return Download{}, err
	}
	since, err := flags.GetString("since")
	if err != nil {
		return Download{}, err
	}
	until, err := flags.GetString("until")
	if err != nil {
		return Download{}, err
	}
	outDir, err := flags.GetString("out")
	if err != nil {
		return Download{}, err
	}
	if strings.TrimSpace(outDir) == "" {
		return Download{}, fmt.Errorf("--out is required")
	}
	withAttachments, err := flags.GetBool("with-attachments")
	if err != nil {
		return Download{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Download{}, err
	}

	cfg := Download{
		Common:          common,
		Folder:          folder,
		Limit:           limit,
		BatchSize:       batchSize,
		MaxRetries:      maxRetries,
		Since:           since,
		Until:           until,
		OutDir:          filepath.Clean(outDir),
		WithAttachments: withAttachments,
		DryRun:          dryRun,
	}

	if err := validateDownload(cfg); err != nil {
		return Download{}, err
	}
	return cfg, nil
}

func validateDownload(cfg Download) error {
	if strings.TrimSpace(cfg.Folder) == "" {
		return fmt.Errorf("--folder must not be empty")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		return fmt.Errorf("staging directory is required")
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("--max-retries must not be negative")
	}
	return nil
}

// Export holds the options of the export command.
type Export struct {
	Common
	InDir    string
	OutFile  string
	Compress bool
	Since    string
	Until    string
}

// RegisterExportFlags attaches the export flags to the command.
func RegisterExportFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("in", "", "Staging directory to read")
	flags.String("out", "", "Path of the mbox archive to write")
	flags.Bool("compress", false, "Gzip-compress the archive (single gzip stream)")
	flags.String("since", "", "Only include messages received at or after this time")
	flags.String("until", "", "Only include messages received at or before this time")

	if err := cmd.MarkFlagRequired("in"); err != nil {
		return err
	}
	return cmd.MarkFlagRequired("out")
}

// LoadExport converts the parsed flags into a validated Export config.
func LoadExport(cmd *cobra.Command) (Export, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Export{}, err
	}

	flags := cmd.Flags()

	inDir, err := flags.GetString("in")
	if err != nil {
		return Export{}, err
	}
	outFile, err := flags.GetString("out")
	if err != nil {
		return Export{}, err
	}
	compress, err := flags.GetBool("compress")
	if err != nil {
		return Export{}, err
	}
	since, err := flags.GetString("since")
	if err != nil {
		return Export{}, err
	}
	until, err := flags.GetString("until")
	if err != nil {
		return Export{}, err
	}

	cfg := Export{
		Common:   common,
		InDir:    filepath.Clean(inDir),
		OutFile:  outFile,
		Compress: compress,
		Since:    since,
		Until:    until,
	}

	if strings.TrimSpace(cfg.InDir) == "" {
		return Export{}, fmt.Errorf("--in is required")
	}
	if strings.TrimSpace(cfg.OutFile) == "" {
		return Export{}, fmt.Errorf("--out is required")
	}
	return cfg, nil
}

// Full holds the options of the full command (download + export).
type Full struct {
	Download
	OutFile     string
	Compress    bool
	StagingDir  string
	KeepStaging bool
}

// RegisterFullFlags attaches the full-pipeline flags to the command.
func RegisterFullFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("folder", "inbox", "Mailbox folder: a well-known name or a display name")
	flags.Int("limit", 0, "Maximum number of messages to download (0 = all)")
	flags.Int("batch-size", 50, "Messages requested per page")
	flags.Int("max-retries", 3, "Retry attempts for transient page failures")
	flags.String("since", "", "Only messages received at or after this time")
	flags.String("until", "", "Only messages received at or before this time")
	flags.Bool("with-attachments", false, "Also fetch attachment content for flagged messages")
	flags.String("out", "", "Path of the mbox archive to write")
	flags.Bool("compress", false, "Gzip-compress the archive (single gzip stream)")
	flags.String("staging-dir", "", "Staging directory (default: <out>.staging)")
	flags.Bool("keep-staging", false, "Keep the staging directory after a successful export")

	return cmd.MarkFlagRequired("out")
}

// LoadFull converts the parsed flags into a validated Full config.
func LoadFull(cmd *cobra.Command) (Full, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Full{}, err
	}

	flags := cmd.Flags()

	folder, err := flags.GetString("folder")
	if err != nil {
		return Full{}, err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return Full{}, err
	}
	batchSize, err := flags.GetInt("batch-size")
	if err != nil {
		return Full{}, err
	}
	maxRetries, err := flags.GetInt("max-retries")
	if err != nil {
		return Full{}, err
	}
	since, err := flags.GetString("since")
	if err != nil {
		return Full{}, err
	}
	until, err := flags.GetString("until")
	if err != nil {
		return Full{}, err
	}
	withAttachments, err := flags.GetBool("with-attachments")
	if err != nil {
		return Full{}, err
	}
	outFile, err := flags.GetString("out")
	if err != nil {
		return Full{}, err
	}
	compress, err := flags.GetBool("compress")
	if err != nil {
		return Full{}, err
	}
	stagingDir, err := flags.GetString("staging-dir")
	if err != nil {
		return Full{}, err
	}
	keepStaging, err := flags.GetBool("keep-staging")
	if err != nil {
		return Full{}, err
	}

	if strings.TrimSpace(outFile) == "" {
		return Full{}, fmt.Errorf("--out is required")
	}
	if stagingDir == "" {
		stagingDir = outFile + ".staging"
	}

	cfg := Full{
		Download: Download{
			Common:          common,
			Folder:          folder,
			Limit:           limit,
			BatchSize:       batchSize,
			MaxRetries:      maxRetries,
			Since:           since,
			Until:           until,
			OutDir:          filepath.Clean(stagingDir),
			WithAttachments: withAttachments,
		},
		OutFile:     outFile,
		Compress:    compress,
		StagingDir:  filepath.Clean(stagingDir),
		KeepStaging: keepStaging,
	}

	if err := validateDownload(cfg.Download); err != nil {
		return Full{}, err
	}
	return cfg, nil
}

// Status holds the options of the status command.
type Status struct {
	Common
	InDir   string
	Archive string
}

func RegisterStatusFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("in", "", "Staging directory to inspect")
	flags.String("archive", "", "Archive file to inspect")
}

func LoadStatus(cmd *cobra.Command) (Status, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Status{}, err
	}

	flags := cmd.Flags()

	inDir, err := flags.GetString("in")
	if err != nil {
		return Status{}, err
	}
	archive, err := flags.GetString("archive")
	if err != nil {
		return Status{}, err
	}

	return Status{Common: common, InDir: inDir, Archive: archive}, nil
}

// Auth holds the options of the auth command.
type Auth struct {
	Common
	SetToken   string
	TokenStdin bool
	Clear      bool
	ExpiresIn  time.Duration
}

func RegisterAuthFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("set-token", "", "Store this access token (falls back to MAILBOX_TOKEN env var)")
	flags.Bool("token-stdin", false, "Read the access token from stdin")
	flags.Bool("clear", false, "Remove the cached access token")
	flags.Duration("expires-in", 0, "Lifetime of the stored token (0 = no expiry)")
}

func LoadAuth(cmd *cobra.Command) (Auth, error) {
	common, err := LoadCommon(cmd)
	if err != nil {
		return Auth{}, err
	}

	flags := cmd.Flags()

	setToken, err := flags.GetString("set-token")
	if err != nil {
		return Auth{}, err
	}
	tokenStdin, err := flags.GetBool("token-stdin")
	if err != nil {
		return Auth{}, err
	}
	clearToken, err := flags.GetBool("clear")
	if err != nil {
		return Auth{}, err
	}
	expiresIn, err := flags.GetDuration("expires-in")
	if err != nil {
		return Auth{}, err
	}

	if setToken == "" && !tokenStdin && !clearToken {
		setToken = os.Getenv("MAILBOX_TOKEN")
	}

	cfg := Auth{
		Common:     common,
		SetToken:   setToken,
		TokenStdin: tokenStdin,
		Clear:      clearToken,
		ExpiresIn:  expiresIn,
	}

	if cfg.Clear && (cfg.SetToken != "" || cfg.TokenStdin) {
		return Auth{}, fmt.Errorf("--clear cannot be combined with --set-token or --token-stdin")
	}
	return cfg, nil
}

func defaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailbox-to-mbox"), nil
}
