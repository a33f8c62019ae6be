package mbox

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mailbox-to-mbox/filter"
	"github.com/dhcgn/mailbox-to-mbox/staging"
)

// progressEvery is the batch granularity for progress callbacks; per-record
// callbacks would be an event storm on large archives.
const progressEvery = 50

type Options struct {
	// Compress wraps the whole archive in a single gzip member.
	Compress bool
	// Range re-checks receivedAt locally; zero means no filtering.
	Range filter.Range
	// Progress, if set, receives (done, total) at batch granularity.
	Progress func(current, total int)
}

type Summary struct {
	Encoded  int
	Skipped  int
	Filtered int
}

// Encode reads every staged unit in filename order and writes one mbox
// archive to outPath. The archive is written to a temp file and renamed into
// place on success only; a failed run never leaves a partial archive behind.
// Records that cannot be loaded or encoded are skipped with a warning.
func Encode(ctx context.Context, store *staging.Store, outPath string, opts Options, logger *slog.Logger) (Summary, error) {
	var sum Summary

	names, err := store.List()
	if err != nil {
		return sum, err
	}

	tmp := outPath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return sum, fmt.Errorf("create archive: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = file.Close()
			_ = os.Remove(tmp)
		}
	}()

	var out io.Writer = file
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(file)
		out = gz
	}
	w := bufio.NewWriter(out)

	total := len(names)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		unit, err := store.Load(name)
		if err != nil {
			sum.Skipped++
			if logger != nil {
				logger.Warn("staged unit unreadable, excluded from archive", "unit", name, "err", err)
			}
			continue
		}

		if !opts.Range.IsZero() && !opts.Range.Matches(unit.ReceivedAt) {
			sum.Filtered++
			continue
		}

		entry, err := EncodeEntry(unit.MessageRecord)
		if err != nil {
			sum.Skipped++
			if logger != nil {
				logger.Warn("record not encodable, excluded from archive", "unit", name, "recordID", unit.ID, "err", err)
			}
			continue
		}

		if _, err := w.Write(entry); err != nil {
			return sum, fmt.Errorf("write archive entry: %w", err)
		}
		// exactly one blank line between entries
		if err := w.WriteByte('\n'); err != nil {
			return sum, fmt.Errorf("write archive entry: %w", err)
		}
		sum.Encoded++

		if opts.Progress != nil && ((i+1)%progressEvery == 0 || i+1 == total) {
			opts.Progress(i+1, total)
		}
	}

	if err := w.Flush(); err != nil {
		return sum, fmt.Errorf("flush archive: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return sum, fmt.Errorf("finish gzip stream: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return sum, fmt.Errorf("sync archive: %w", err)
	}
	if err := file.Close(); err != nil {
		return sum, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return sum, fmt.Errorf("replace archive: %w", err)
	}
	committed = true

	if logger != nil {
		logger.Info("archive written", "path", outPath, "entries", sum.Encoded, "skipped", sum.Skipped, "filtered", sum.Filtered, "compressed", opts.Compress)
	}
	return sum, nil
}

// CountEntries counts the messages in an existing archive, transparently
// handling gzip-compressed archives.
func CountEntries(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var in io.Reader = file
	if isGzip(file, path) {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return 0, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		in = gz
	}

	reader := mboxlib.NewReader(in)
	count := 0
	for {
		msg, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("read archive entry %d: %w", count, err)
		}
		if _, err := io.Copy(io.Discard, msg); err != nil {
			return count, fmt.Errorf("read archive entry %d: %w", count, err)
		}
		count++
	}
}

// isGzip sniffs the two magic bytes, falling back to the file extension if
// the file is too short to sniff.
func isGzip(file *os.File, path string) bool {
	var magic [2]byte
	n, err := file.ReadAt(magic[:], 0)
	if _, serr := file.Seek(0, io.SeekStart); serr != nil {
		return strings.HasSuffix(path, ".gz")
	}
	if err != nil || n < 2 {
		return strings.HasSuffix(path, ".gz")
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}
