package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mailbox-to-mbox/stats"
)

// Bar tracks the download pipeline on a pterm progress bar, fed by the
// page-granular progress events the fetch stage emits.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	enabled bool
	mu      sync.Mutex
}

// New creates a progress bar if logLevel is "info". alreadyStaged is the
// number of units found in the staging directory before the run, shown so a
// resumed run is recognizable.
func New(total int, alreadyStaged int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Downloading messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages to download: %d\n", total)
		if alreadyStaged > 0 {
			pterm.Info.Printf("Units already staged from earlier runs: %d\n", alreadyStaged)
		}
		pterm.Println()
	}

	return bar
}

// Update advances the bar from a pipeline event.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeProgress:
		b.pb.Current = evt.Current
		if evt.Total > 0 {
			percentage := float64(evt.Current) / float64(evt.Total) * 100
			b.pb.UpdateTitle(fmt.Sprintf("Downloading messages (%.0f%%)", percentage))
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Warning.Printf("%v\n", evt.Err)
		}
	}
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, _ = b.pb.Stop()
}

// Subscriber adapts the bar to the stats event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// EncodeBar shows encoding progress; it is driven directly by the encoder's
// batch-granular progress callback rather than the event stream.
type EncodeBar struct {
	pb      *pterm.ProgressbarPrinter
	enabled bool
	mu      sync.Mutex
}

func NewEncodeBar(total int, logLevel string) *EncodeBar {
	enabled := logLevel == "info" && total > 0

	bar := &EncodeBar{enabled: enabled}
	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Encoding archive").
			Start()
		bar.pb = pb
	}
	return bar
}

// Set is the encoder progress sink.
func (b *EncodeBar) Set(current, total int) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pb.Current = current
	if total > 0 {
		percentage := float64(current) / float64(total) * 100
		b.pb.UpdateTitle(fmt.Sprintf("Encoding archive (%.0f%%)", percentage))
	}
}

func (b *EncodeBar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}
	_, _ = b.pb.Stop()
}
