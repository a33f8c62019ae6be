package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/model"
	"github.com/dhcgn/mailbox-to-mbox/stats"
)

var ErrRecordIDMissing = errors.New("mailbox record missing id")

type StageFunc func(context.Context) error

// Runner supervises the download pipeline: a fetch stage writes record
// envelopes, the bridge deduplicates by id and forwards to the staging
// stage. Any stage error cancels the whole run; staged files written so far
// are left in place for resumption.
type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	records chan model.Envelope
	staged  chan model.MessageRecord

	subsMu sync.Mutex
	subs   []chan stats.Event

	seenMu sync.Mutex
	seen   map[string]struct{}

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeRecordsOnce sync.Once
	closeStagedOnce  sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		records: make(chan model.Envelope, 32),
		staged:  make(chan model.MessageRecord, 32),
		seen:    make(map[string]struct{}),
	}

	r.AddStage("bridge", r.bridge)
	return r
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) RecordWriter() chan<- model.Envelope {
	return r.records
}

func (r *Runner) CloseRecords() {
	r.closeRecordsOnce.Do(func() {
		close(r.records)
	})
}

func (r *Runner) Staged() <-chan model.MessageRecord {
	return r.staged
}

// Stop requests cancellation of the run. In-flight stages observe it at
// their next suspension point; no staged unit is left partially written.
func (r *Runner) Stop() {
	r.cancel()
}

// EmitEvent fans the event out to every subscriber. Each subscriber has its
// own buffered channel so a progress bar and a stats collector both see the
// full stream.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeStaged()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.records:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Err: envelope.Err})
				r.fail(fmt.Errorf("fetch envelope: %w", envelope.Err))
				continue
			}

			rec := envelope.Record
			r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeFetched, RecordID: rec.ID})

			if rec.ID == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Err: ErrRecordIDMissing})
				r.fail(ErrRecordIDMissing)
				continue
			}

			// Duplicates within one run are still forwarded: the staged
			// filename is deterministic per id, so the last occurrence
			// overwrites earlier ones.
			if r.markSeen(rec.ID) {
				r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeDuplicate, RecordID: rec.ID})
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.staged <- rec:
				r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeEnqueued, RecordID: rec.ID})
			}
		}
	}
}

// markSeen records the id and reports whether it was already present.
func (r *Runner) markSeen(id string) bool {
	r.seenMu.Lock()
	_, dup := r.seen[id]
	r.seen[id] = struct{}{}
	r.seenMu.Unlock()
	return dup
}

func (r *Runner) closeStaged() {
	r.closeStagedOnce.Do(func() {
		close(r.staged)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		for _, ch := range r.subs {
			close(ch)
		}
		r.subsMu.Unlock()
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
