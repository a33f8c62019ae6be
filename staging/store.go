package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/model"
)

const (
	unitSuffix     = ".json"
	maxSubjectSlug = 50
	timeLayout     = "20060102T150405Z"
)

// Store persists fetched records as one JSON file each under Dir. Filenames
// are derived from (receivedAt, subject, id), so re-staging the same id is
// an overwrite, never a duplicate. Writes are atomic: the unit is written to
// a temp file and renamed into place.
type Store struct {
	Dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("staging directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &Store{Dir: filepath.Clean(dir)}, nil
}

// UnitName returns the deterministic filename for a record.
func UnitName(rec model.MessageRecord) string {
	received := rec.ReceivedAt.UTC().Format(timeLayout)
	subject := Slug(rec.Subject, maxSubjectSlug)
	id := Slug(rec.ID, 0)
	if subject == "" {
		subject = "no_subject"
	}
	return fmt.Sprintf("%s_%s_%s%s", received, subject, id, unitSuffix)
}

// Slug reduces s to the filesystem-safe set [A-Za-z0-9_-], collapsing
// whitespace runs to single underscores. A limit of 0 means unlimited.
func Slug(s string, limit int) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ', r == '\t', r == '\n', r == '\r':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			// dropped
		}
		if limit > 0 && b.Len() >= limit {
			break
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Put writes one record and returns the unit filename.
func (s *Store) Put(rec model.MessageRecord) (string, error) {
	unit := model.StagedUnit{MessageRecord: rec, DownloadedAt: time.Now().UTC()}

	data, err := json.MarshalIndent(unit, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode staged unit %s: %w", rec.ID, err)
	}

	name := UnitName(rec)
	path := filepath.Join(s.Dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write staged unit %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace staged unit %s: %w", name, err)
	}

	return name, nil
}

// Exists reports whether a unit file with the given name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.Dir, name))
	return err == nil
}

// List returns all unit filenames sorted lexicographically. The receivedAt
// prefix makes that chronological, so the archive is encoded oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list staging directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), unitSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one staged unit back.
func (s *Store) Load(name string) (model.StagedUnit, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return model.StagedUnit{}, fmt.Errorf("read staged unit %s: %w", name, err)
	}

	var unit model.StagedUnit
	if err := json.Unmarshal(data, &unit); err != nil {
		return model.StagedUnit{}, fmt.Errorf("parse staged unit %s: %w", name, err)
	}
	return unit, nil
}

// RemoveAll deletes the staging directory. Callers invoke this only after a
// fully successful run; on failure the directory is always left intact.
func (s *Store) RemoveAll() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	return nil
}
