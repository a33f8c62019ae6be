package graph

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/dhcgn/mailbox-to-mbox/model"
	"github.com/dhcgn/mailbox-to-mbox/runner"
	"github.com/dhcgn/mailbox-to-mbox/stats"
)

// runFetch drives a fetcher through a fresh runner and collects every record
// that reaches the staging channel.
func runFetch(t *testing.T, client *Client, opts FetchOptions) ([]model.MessageRecord, stats.Summary, error) {
	t.Helper()

	r := runner.New(discardLogger())

	collector := stats.NewCollector()
	r.SubscribeStats("collector", func(ctx context.Context, events <-chan stats.Event) error {
		collector.Run(ctx, events)
		return nil
	})

	var mu sync.Mutex
	var got []model.MessageRecord
	r.AddStage("sink", func(ctx context.Context) error {
		for rec := range r.Staged() {
			mu.Lock()
			got = append(got, rec)
			mu.Unlock()
		}
		return nil
	})

	if _, err := NewFetcher(client, opts, r, discardLogger()); err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}

	err := r.Start()
	return got, collector.Snapshot(), err
}

func TestFetcher_ShortPageTerminatesDespiteStaleTotal(t *testing.T) {
	// 123 real messages, server claims 200
	client := testClient(t, pagedHandler(t, 123, 200))

	records, _, err := runFetch(t, client, FetchOptions{
		FolderID:  "inbox",
		Limit:     1000,
		Total:     200,
		BatchSize: 50,
	})
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	if len(records) != 123 {
		t.Fatalf("fetched %d records, want exactly 123 (pages 50,50,23)", len(records))
	}
	if records[0].ID != "msg-000" || records[122].ID != "msg-122" {
		t.Errorf("records out of server order: first %s last %s", records[0].ID, records[122].ID)
	}
}

func TestFetcher_LimitClampsFetch(t *testing.T) {
	client := testClient(t, pagedHandler(t, 500, 500))

	records, _, err := runFetch(t, client, FetchOptions{
		FolderID:  "inbox",
		Limit:     75,
		BatchSize: 50,
	})
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(records) != 75 {
		t.Errorf("fetched %d records, want 75", len(records))
	}
}

func TestFetcher_FollowsServerContinuationToken(t *testing.T) {
	var srvURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/mailFolders/inbox/messages":
			var page []any
			for i := 0; i < 2; i++ {
				page = append(page, wireMsgJSON(i))
			}
			writeJSON(w, map[string]any{
				"value":           page,
				"@odata.nextLink": srvURL + "/continue/abc",
			})
		case "/continue/abc":
			// skip must never be recomputed once the server hands out a token
			if r.URL.Query().Get("$skip") != "" {
				t.Errorf("continuation request carries $skip: %s", r.URL.RawQuery)
			}
			writeJSON(w, map[string]any{"value": []any{wireMsgJSON(2)}})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})
	client := testClient(t, handler)
	srvURL = client.baseURL

	records, _, err := runFetch(t, client, FetchOptions{
		FolderID:  "inbox",
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("fetched %d records, want 3", len(records))
	}
}

func TestFetcher_FullTokenPageWithoutLinkTerminates(t *testing.T) {
	var srvURL string
	var mu sync.Mutex
	continuationHits := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/mailFolders/inbox/messages":
			writeJSON(w, map[string]any{
				"value":           []any{wireMsgJSON(0), wireMsgJSON(1)},
				"@odata.nextLink": srvURL + "/continue/last",
			})
		case "/continue/last":
			mu.Lock()
			continuationHits++
			mu.Unlock()
			// exactly batch-size records and no follow-up link: the normal
			// end-of-stream shape for token paging
			writeJSON(w, map[string]any{"value": []any{wireMsgJSON(2), wireMsgJSON(3)}})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})
	client := testClient(t, handler)
	srvURL = client.baseURL

	records, _, err := runFetch(t, client, FetchOptions{
		FolderID:  "inbox",
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("fetched %d records, want 4 (a refetched token page duplicates records)", len(records))
	}
	mu.Lock()
	hits := continuationHits
	mu.Unlock()
	if hits != 1 {
		t.Errorf("continuation page fetched %d times, want 1", hits)
	}
}

func TestFetcher_AttachmentFailureIsolatedPerRecord(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/me/mailFolders/inbox/messages":
			var page []any
			for i := 0; i < 5; i++ {
				msg := wireMsgJSON(i)
				msg["hasAttachments"] = true
				page = append(page, msg)
			}
			writeJSON(w, map[string]any{"value": page})
		case r.URL.Path == "/me/messages/msg-002/attachments":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			writeJSON(w, map[string]any{"value": []any{
				map[string]any{"id": "att", "name": "a.txt", "contentType": "text/plain", "size": 1, "contentBytes": "YQ=="},
			}})
		}
	})
	client := testClient(t, handler)

	records, summary, err := runFetch(t, client, FetchOptions{
		FolderID:        "inbox",
		BatchSize:       50,
		WithAttachments: true,
	})
	if err != nil {
		t.Fatalf("one failed attachment fetch must not fail the run: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("fetched %d records, want 5", len(records))
	}

	withAttachments := 0
	for _, rec := range records {
		if rec.ID == "msg-002" {
			if len(rec.Attachments) != 0 {
				t.Errorf("failed record must degrade to empty attachment list, got %d", len(rec.Attachments))
			}
			continue
		}
		if len(rec.Attachments) == 1 {
			withAttachments++
		}
	}
	if withAttachments != 4 {
		t.Errorf("%d records with attachments, want 4", withAttachments)
	}
	if summary.Errors != 1 {
		t.Errorf("summary.Errors = %d, want 1", summary.Errors)
	}
}

func TestFetcher_RetriesTransientPageFailure(t *testing.T) {
	var mu sync.Mutex
	failures := 1
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		shouldFail := failures > 0
		if shouldFail {
			failures--
		}
		mu.Unlock()

		if shouldFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"value": []any{wireMsgJSON(0)}})
	})
	client := testClient(t, handler)

	records, _, err := runFetch(t, client, FetchOptions{
		FolderID:   "inbox",
		BatchSize:  10,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("transient failure within retry budget must succeed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("fetched %d records, want 1", len(records))
	}
}

func TestFetcher_ExhaustedRetriesFailRun(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, _, err := runFetch(t, client, FetchOptions{
		FolderID:   "inbox",
		BatchSize:  10,
		MaxRetries: 0,
	})
	if err == nil {
		t.Fatal("expected run to fail after exhausted retries")
	}
}

func TestFetcher_DuplicateIDsLastSeenWins(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first := wireMsgJSON(0)
		first["subject"] = "first"
		second := wireMsgJSON(0)
		second["subject"] = "second"
		writeJSON(w, map[string]any{"value": []any{first, second}})
	})
	client := testClient(t, handler)

	records, summary, err := runFetch(t, client, FetchOptions{
		FolderID:  "inbox",
		BatchSize: 50,
	})
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	// both forwarded, staging overwrite makes the later one win
	if len(records) != 2 {
		t.Fatalf("forwarded %d records, want 2", len(records))
	}
	if records[1].Subject != "second" {
		t.Errorf("last record subject = %q, want second", records[1].Subject)
	}
	if summary.Duplicates != 1 {
		t.Errorf("summary.Duplicates = %d, want 1", summary.Duplicates)
	}
}

