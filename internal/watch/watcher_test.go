package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/mdview/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, debounce time.Duration) (*Watcher, *recorder) {
	t.Helper()
	w, err := New(testutil.Logger(), debounce)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rec := &recorder{}
	go func() {
		defer close(done)
		_ = w.Run(ctx, rec.record)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, rec
}

func TestWatcher_WriteTriggersCallback(t *testing.T) {
	dir := t.TempDir()
	doc := testutil.WriteDoc(t, dir, "doc.md", "# One\n")
	w, rec := startWatcher(t, 50*time.Millisecond)

	w.Follow(doc)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(doc, []byte("# Two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return len(rec.snapshot()) > 0
	}, "write not reported")
	if got := rec.snapshot(); len(got) > 0 && got[0] != doc {
		t.Errorf("callback path = %q, want %q", got[0], doc)
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	doc := testutil.WriteDoc(t, dir, "doc.md", "# One\n")
	w, rec := startWatcher(t, 30*time.Millisecond)

	w.Follow(doc)
	time.Sleep(100 * time.Millisecond)

	testutil.WriteDoc(t, dir, "other.md", "# Other\n")
	time.Sleep(300 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("sibling change reported: %v", got)
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	doc := testutil.WriteDoc(t, dir, "doc.md", "x")
	w, rec := startWatcher(t, 150*time.Millisecond)

	w.Follow(doc)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(doc, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(600 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("callbacks = %d, want 1", len(got))
	}
}

func TestWatcher_FollowRetargets(t *testing.T) {
	first := testutil.WriteDoc(t, t.TempDir(), "a.md", "a")
	second := testutil.WriteDoc(t, t.TempDir(), "b.md", "b")
	w, rec := startWatcher(t, 30*time.Millisecond)

	w.Follow(first)
	w.Follow(second)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(first, []byte("a2"), 0o644)
	_ = os.WriteFile(second, []byte("b2"), 0o644)

	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return len(rec.snapshot()) > 0
	}, "retargeted file not reported")
	time.Sleep(100 * time.Millisecond)
	for _, p := range rec.snapshot() {
		if p != filepath.Clean(second) {
			t.Errorf("unexpected callback for %q", p)
		}
	}
}
