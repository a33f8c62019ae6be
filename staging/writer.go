package staging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mailbox-to-mbox/runner"
	"github.com/dhcgn/mailbox-to-mbox/stats"
)

// Writer is the pipeline stage persisting fetched records. A failed write is
// logged and reported but never aborts the batch: the record is simply
// absent from later encoding.
type Writer struct {
	store  *Store
	runner *runner.Runner
	logger *slog.Logger
	dryRun bool
}

func NewWriter(store *Store, r *runner.Runner, dryRun bool, logger *slog.Logger) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	w := &Writer{store: store, runner: r, logger: logger, dryRun: dryRun}
	r.AddStage("stage", w.run)
	return w, nil
}

func (w *Writer) run(ctx context.Context) error {
	staged := w.runner.Staged()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-staged:
			if !ok {
				return nil
			}

			if w.dryRun {
				w.runner.EmitEvent(stats.Event{Stage: stats.StageStage, Type: stats.EventTypeStaged, RecordID: rec.ID, Detail: "dry-run"})
				if w.logger != nil {
					w.logger.Debug("dry-run stage", "recordID", rec.ID, "unit", UnitName(rec))
				}
				continue
			}

			name, err := w.store.Put(rec)
			if err != nil {
				w.runner.EmitEvent(stats.Event{Stage: stats.StageStage, Type: stats.EventTypeError, RecordID: rec.ID, Err: err})
				if w.logger != nil {
					w.logger.Warn("staging write failed, record skipped", "recordID", rec.ID, "err", err)
				}
				continue
			}

			w.runner.EmitEvent(stats.Event{Stage: stats.StageStage, Type: stats.EventTypeStaged, RecordID: rec.ID})
			if w.logger != nil {
				w.logger.Debug("staged record", "recordID", rec.ID, "unit", name)
			}
		}
	}
}
