package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFileCache_SaveAndLoad(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache() error = %v", err)
	}

	if _, err := cache.AccessToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("empty cache: err = %v, want ErrNotAuthenticated", err)
	}

	if err := cache.Save("tok-123", time.Time{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	token, err := cache.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "tok-123" {
		t.Errorf("AccessToken() = %q, want tok-123", token)
	}
}

func TestFileCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save("persisted", time.Time{}); err != nil {
		t.Fatal(err)
	}

	second, err := NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	token, err := second.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() after reopen error = %v", err)
	}
	if token != "persisted" {
		t.Errorf("AccessToken() = %q, want persisted", token)
	}
}

func TestFileCache_Expiry(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := cache.Save("stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.AccessToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expired token: err = %v, want ErrNotAuthenticated", err)
	}
}

func TestFileCache_Clear(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save("gone", time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := cache.AccessToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("after clear: err = %v, want ErrNotAuthenticated", err)
	}
	// clearing twice must not fail
	if err := cache.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	if _, err := (StaticProvider{}).AccessToken(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("empty static provider: err = %v, want ErrNotAuthenticated", err)
	}

	token, err := (StaticProvider{Token: "abc"}).AccessToken(context.Background())
	if err != nil || token != "abc" {
		t.Errorf("static provider = (%q, %v), want (abc, nil)", token, err)
	}
}
