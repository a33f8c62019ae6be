package filter

import (
	"fmt"
	"strings"
	"time"
)

// Options captures the date-range configuration as given on the command line.
// Values are RFC 3339 timestamps or plain dates (2006-01-02); empty means
// unbounded on that side.
type Options struct {
	Since string
	Until string
}

// Range is a half-open-ended date predicate applied server-side to the
// received timestamp and re-checked locally at encode time.
type Range struct {
	Since time.Time
	Until time.Time
}

// New parses and validates the configured range.
func New(opts Options) (Range, error) {
	since, err := parseBound(opts.Since)
	if err != nil {
		return Range{}, fmt.Errorf("parse --since: %w", err)
	}
	until, err := parseBound(opts.Until)
	if err != nil {
		return Range{}, fmt.Errorf("parse --until: %w", err)
	}

	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return Range{}, fmt.Errorf("--until (%s) is before --since (%s)", opts.Until, opts.Since)
	}

	return Range{Since: since, Until: until}, nil
}

// IsZero reports whether no bound is set.
func (r Range) IsZero() bool {
	return r.Since.IsZero() && r.Until.IsZero()
}

// Matches reports whether t falls inside the range. Bounds are inclusive.
func (r Range) Matches(t time.Time) bool {
	if !r.Since.IsZero() && t.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && t.After(r.Until) {
		return false
	}
	return true
}

// QueryExpr renders the range as an OData-style $filter expression over
// receivedDateTime, or "" when unbounded.
func (r Range) QueryExpr() string {
	var parts []string
	if !r.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("receivedDateTime ge %s", r.Since.UTC().Format(time.RFC3339)))
	}
	if !r.Until.IsZero() {
		parts = append(parts, fmt.Sprintf("receivedDateTime le %s", r.Until.UTC().Format(time.RFC3339)))
	}
	return strings.Join(parts, " and ")
}

func parseBound(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (want RFC 3339 or 2006-01-02)", value)
}
