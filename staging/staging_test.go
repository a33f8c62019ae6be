package staging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/model"
)

func testRecord(id, subject string, received time.Time) model.MessageRecord {
	return model.MessageRecord{
		ID:         id,
		Subject:    subject,
		ReceivedAt: received,
		Body:       model.Body{ContentType: model.BodyTypeText, Content: "hello"},
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"plain", "Invoice", 50, "Invoice"},
		{"whitespace collapsed", "Quarterly  report\t2024", 50, "Quarterly_report_2024"},
		{"specials stripped", "Re: [Fwd] €uro/plan?", 50, "Re_Fwd_uroplan"},
		{"truncated", strings.Repeat("a", 80), 50, strings.Repeat("a", 50)},
		{"trailing underscore trimmed", "hello ", 50, "hello"},
		{"unlimited", strings.Repeat("b", 80), 0, strings.Repeat("b", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.in, tt.limit); got != tt.want {
				t.Errorf("Slug(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}

func TestUnitName_Deterministic(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := testRecord("AAMkAGI2-01=", "Hello World", received)

	name := UnitName(rec)
	if name != UnitName(rec) {
		t.Fatal("UnitName must be deterministic")
	}
	if !strings.HasPrefix(name, "20240301T093000Z_Hello_World_") {
		t.Errorf("unexpected unit name %q", name)
	}
	if !strings.HasSuffix(name, ".json") {
		t.Errorf("unit name %q missing .json suffix", name)
	}
	if strings.ContainsAny(name, " /\\:*?\"<>|=") {
		t.Errorf("unit name %q contains unsafe characters", name)
	}
}

func TestStore_PutIsIdempotentPerID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	rec := testRecord("id-1", "Same subject", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	first, err := store.Put(rec)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rec.Body.Content = "updated"
	second, err := store.Put(rec)
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	if first != second {
		t.Errorf("re-staging the same id produced a new file: %q vs %q", first, second)
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 unit after overwrite, got %d", len(names))
	}

	unit, err := store.Load(names[0])
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if unit.Body.Content != "updated" {
		t.Errorf("overwrite must be last-seen-wins, got body %q", unit.Body.Content)
	}
	if unit.DownloadedAt.IsZero() {
		t.Error("staged unit missing downloadedAt")
	}
}

func TestStore_ListSortedByFilename(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	// staged out of order on purpose
	for _, offset := range []int{2, 0, 1} {
		rec := testRecord(string(rune('a'+offset)), "subject", base.Add(time.Duration(offset)*time.Hour))
		if _, err := store.Put(rec); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 units, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("listing not sorted: %q before %q", names[i-1], names[i])
		}
	}
}

func TestStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if _, err := store.Put(testRecord("x", "s", time.Now())); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_Exists(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	rec := testRecord("present", "s", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	name, err := store.Put(rec)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if !store.Exists(name) {
		t.Errorf("Exists(%q) = false, want true", name)
	}
	if store.Exists("missing.json") {
		t.Error("Exists(missing) = true, want false")
	}
}

func TestStore_ListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(testRecord("y", "s", time.Now())); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 {
		t.Errorf("expected only unit files listed, got %v", names)
	}
}
