// Package testutil provides shared test helpers for documents, tag stores and history databases.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/tagstore"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// WriteDoc writes a Markdown file named name under dir and returns its path.
func WriteDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestStore creates an empty tag store backed by a file in a temp directory.
func TestStore(t *testing.T) *tagstore.Store {
	t.Helper()
	return tagstore.Load(filepath.Join(t.TempDir(), "tags.json"))
}

// TestHistory creates a temporary SQLite history database that is automatically closed.
func TestHistory(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// FakeConverter records requests and returns Err. When Release is non-nil,
// Convert blocks until it is closed.
type FakeConverter struct {
	Err     error
	Release chan struct{}

	mu   sync.Mutex
	reqs []converter.Request
}

func (f *FakeConverter) Convert(ctx context.Context, req converter.Request) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.Release != nil {
		select {
		case <-f.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.Err
}

// Requests returns the requests seen so far.
func (f *FakeConverter) Requests() []converter.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]converter.Request(nil), f.reqs...)
}
