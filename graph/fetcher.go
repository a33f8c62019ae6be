package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/mailbox-to-mbox/filter"
	"github.com/dhcgn/mailbox-to-mbox/model"
	"github.com/dhcgn/mailbox-to-mbox/runner"
	"github.com/dhcgn/mailbox-to-mbox/stats"
)

const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 3
)

type FetchOptions struct {
	// FolderID is the already-resolved provider folder id.
	FolderID string
	// Limit caps the number of records fetched; 0 means everything.
	Limit int
	// Total is the advisory server count (clamped to Limit), used for
	// progress reporting only.
	Total           int
	BatchSize       int
	MaxRetries      int
	WithAttachments bool
	Range           filter.Range
}

// Fetcher is the producer stage: it pages through the folder in
// received-time-descending order, enriches flagged records with their
// attachments and emits every record into the pipeline. A page shorter than
// requested ends the stream, as does a token page without a follow-up link;
// the advisory total never does.
type Fetcher struct {
	client *Client
	opts   FetchOptions
	runner *runner.Runner
	logger *slog.Logger
}

func NewFetcher(client *Client, opts FetchOptions, r *runner.Runner, logger *slog.Logger) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	if opts.FolderID == "" {
		return nil, fmt.Errorf("folder id is empty")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	f := &Fetcher{client: client, opts: opts, runner: r, logger: logger}
	r.AddStage("fetch", f.run)
	return f, nil
}

func (f *Fetcher) run(ctx context.Context) error {
	defer f.runner.CloseRecords()

	cur := NewCursor(f.opts.BatchSize)
	fetched := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cur.Kind == CursorOffset {
			// shrink the last page when a limit is set
			top := f.opts.BatchSize
			if f.opts.Limit > 0 && f.opts.Limit-fetched < top {
				top = f.opts.Limit - fetched
			}
			if top <= 0 {
				return nil
			}
			cur.PageSize = top
		}

		records, next, err := f.listPageRetry(ctx, cur)
		if err != nil {
			return err
		}

		requested := cur.PageSize
		short := len(records) < requested

		done := false
		if f.opts.Limit > 0 && fetched+len(records) >= f.opts.Limit {
			records = records[:f.opts.Limit-fetched]
			done = true
		}

		if f.opts.WithAttachments {
			if err := f.enrich(ctx, records); err != nil {
				return err
			}
		}

		for i := range records {
			if err := f.emit(ctx, model.Envelope{Record: records[i]}); err != nil {
				return err
			}
		}
		fetched += len(records)

		f.runner.EmitEvent(stats.Event{
			Stage:   stats.StageFetch,
			Type:    stats.EventTypeProgress,
			Current: fetched,
			Total:   f.opts.Total,
		})

		if short || done || next.Exhausted() {
			if f.logger != nil {
				f.logger.Debug("pagination finished", "fetched", fetched, "shortPage", short, "exhausted", next.Exhausted(), "advisoryTotal", f.opts.Total)
			}
			return nil
		}

		cur = next
	}
}

func (f *Fetcher) listPageRetry(ctx context.Context, cur Cursor) ([]model.MessageRecord, Cursor, error) {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Jitter: true}

	for attempt := 0; ; attempt++ {
		records, next, err := f.client.ListPage(ctx, f.opts.FolderID, cur, f.opts.Range)
		if err == nil {
			return records, next, nil
		}
		if !IsTransient(err) || attempt >= f.opts.MaxRetries {
			return nil, cur, err
		}

		delay := b.Duration()
		if f.logger != nil {
			f.logger.Warn("transient page fetch failure, retrying", "attempt", attempt+1, "maxRetries", f.opts.MaxRetries, "backoff", delay, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, cur, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// enrich fetches attachments for the flagged records of one page with a
// bounded worker pool. A failure for one record degrades that record to an
// empty attachment list; it never aborts the batch. All workers are joined
// before the page advances.
func (f *Fetcher) enrich(ctx context.Context, records []model.MessageRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.BatchSize)

	for i := range records {
		if !records[i].HasAttachments {
			continue
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			attachments, err := f.client.ListAttachments(gctx, records[i].ID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				records[i].Attachments = nil
				f.runner.EmitEvent(stats.Event{
					Stage:    stats.StageFetch,
					Type:     stats.EventTypeError,
					RecordID: records[i].ID,
					Err:      err,
					Detail:   "attachments",
				})
				if f.logger != nil {
					f.logger.Warn("attachment fetch failed, record degraded to empty list", "recordID", records[i].ID, "err", err)
				}
				return nil
			}
			records[i].Attachments = attachments
			return nil
		})
	}

	return g.Wait()
}

func (f *Fetcher) emit(ctx context.Context, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.runner.RecordWriter() <- env:
		return nil
	}
}
