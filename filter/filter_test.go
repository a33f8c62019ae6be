package filter

import (
	"testing"
	"time"
)

func TestNew_ParsesBounds(t *testing.T) {
	rng, err := New(Options{Since: "2024-01-01", Until: "2024-06-30T23:59:59Z"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if rng.Since.IsZero() || rng.Until.IsZero() {
		t.Fatalf("expected both bounds set, got %+v", rng)
	}
	if got := rng.Since.Format("2006-01-02"); got != "2024-01-01" {
		t.Errorf("Since = %s, want 2024-01-01", got)
	}
}

func TestNew_EmptyIsUnbounded(t *testing.T) {
	rng, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !rng.IsZero() {
		t.Errorf("expected zero range, got %+v", rng)
	}
	if !rng.Matches(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("zero range must match everything")
	}
}

func TestNew_UntilBeforeSince(t *testing.T) {
	_, err := New(Options{Since: "2024-06-01", Until: "2024-01-01"})
	if err == nil {
		t.Error("expected error when --until is before --since")
	}
}

func TestNew_InvalidTimestamp(t *testing.T) {
	_, err := New(Options{Since: "yesterday"})
	if err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestRange_Matches(t *testing.T) {
	rng, err := New(Options{Since: "2024-01-01", Until: "2024-12-31"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), true},
		{"on lower bound", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"before", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{"after", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rng.Matches(tt.at); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestRange_QueryExpr(t *testing.T) {
	rng, err := New(Options{Since: "2024-01-01"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := "receivedDateTime ge 2024-01-01T00:00:00Z"
	if got := rng.QueryExpr(); got != want {
		t.Errorf("QueryExpr() = %q, want %q", got, want)
	}

	both, err := New(Options{Since: "2024-01-01", Until: "2024-02-01"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	wantBoth := "receivedDateTime ge 2024-01-01T00:00:00Z and receivedDateTime le 2024-02-01T00:00:00Z"
	if got := both.QueryExpr(); got != wantBoth {
		t.Errorf("QueryExpr() = %q, want %q", got, wantBoth)
	}

	if got := (Range{}).QueryExpr(); got != "" {
		t.Errorf("QueryExpr() on zero range = %q, want empty", got)
	}
}
