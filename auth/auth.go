package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotAuthenticated is returned when no usable access token is available.
// It is fatal for a run; the caller must re-authenticate, there is no retry.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenProvider supplies bearer tokens for the mailbox API. The core only
// ever forwards the token as a header value; it never inspects or caches it.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// StaticProvider returns a fixed token. Used in tests and when a token is
// passed directly via environment.
type StaticProvider struct {
	Token string
}

func (s StaticProvider) AccessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.Token) == "" {
		return "", ErrNotAuthenticated
	}
	return s.Token, nil
}

func (s StaticProvider) Invalidate() {}

type cacheRecord struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// FileCache persists a bearer token under the user's cache directory so
// separate invocations can share one login. The device-code flow that
// obtains the token in the first place is an external concern.
type FileCache struct {
	path string

	mu     sync.Mutex
	loaded bool
	record cacheRecord
}

func NewFileCache(dir string) (*FileCache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("token cache directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token cache directory: %w", err)
	}
	return &FileCache{path: filepath.Join(dir, "token.json")}, nil
}

// DefaultCacheDir returns the per-user token cache location.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailbox-to-mbox"), nil
}

func (c *FileCache) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := c.load(); err != nil {
			return "", err
		}
	}

	if c.record.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	if !c.record.ExpiresAt.IsZero() && time.Now().After(c.record.ExpiresAt) {
		return "", fmt.Errorf("token expired %s: %w", c.record.ExpiresAt.Format(time.RFC3339), ErrNotAuthenticated)
	}

	return c.record.AccessToken, nil
}

// Invalidate drops the in-memory copy so the next AccessToken call re-reads
// the cache file.
func (c *FileCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.record = cacheRecord{}
	c.mu.Unlock()
}

// Save stores a token, replacing any previous one. A zero expiry means the
// token is kept until explicitly cleared.
func (c *FileCache) Save(token string, expiresAt time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	record := cacheRecord{AccessToken: token, ExpiresAt: expiresAt, SavedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}

	c.mu.Lock()
	c.loaded = true
	c.record = record
	c.mu.Unlock()
	return nil
}

// Clear removes the cached token.
func (c *FileCache) Clear() error {
	c.Invalidate()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token cache: %w", err)
	}
	return nil
}

// Status reports whether a token is cached and when it expires.
func (c *FileCache) Status() (present bool, expiresAt time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := c.load(); err != nil {
			return false, time.Time{}, err
		}
	}
	return c.record.AccessToken != "", c.record.ExpiresAt, nil
}

func (c *FileCache) load() error {
	c.loaded = true
	c.record = cacheRecord{}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token cache: %w", err)
	}

	if err := json.Unmarshal(data, &c.record); err != nil {
		return fmt.Errorf("parse token cache: %w", err)
	}
	return nil
}
