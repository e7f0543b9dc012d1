package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/render"
	"github.com/starford/mdview/internal/sse"
	"github.com/starford/mdview/internal/tagstore"
	"github.com/starford/mdview/internal/task"
	"github.com/starford/mdview/internal/testutil"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *fakePublisher) Publish(e sse.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *fakePublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (p *fakePublisher) last(typ string) (sse.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == typ {
			return p.events[i], true
		}
	}
	return sse.Event{}, false
}

type fakeRecorder struct {
	mu    sync.Mutex
	opens []string
	convs []history.Conversion
}

func (r *fakeRecorder) RecordOpen(_ context.Context, path, _, _ string) error {
	r.mu.Lock()
	r.opens = append(r.opens, path)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) RecordConversion(_ context.Context, c history.Conversion) error {
	r.mu.Lock()
	r.convs = append(r.convs, c)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) conversions() []history.Conversion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Conversion(nil), r.convs...)
}

type env struct {
	s     *Session
	store *tagstore.Store
	pub   *fakePublisher
	rec   *fakeRecorder
	conv  *testutil.FakeConverter
	dir   string
}

func start(t *testing.T, conv converter.Converter) *env {
	t.Helper()
	e := &env{
		store: testutil.TestStore(t),
		pub:   &fakePublisher{},
		rec:   &fakeRecorder{},
		dir:   t.TempDir(),
	}
	if conv == nil {
		e.conv = &testutil.FakeConverter{}
		conv = e.conv
	}
	e.s = New(e.store, render.New(render.Options{}), conv,
		WithPublisher(e.pub),
		WithRecorder(e.rec),
		WithLogger(testutil.Logger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func (e *env) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := e.s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

// open loads path and waits until the load has settled.
func (e *env) open(t *testing.T, path string) Snapshot {
	t.Helper()
	if _, err := e.s.Open(context.Background(), path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e.settle(t)
}

func (e *env) settle(t *testing.T) Snapshot {
	t.Helper()
	var snap Snapshot
	testutil.Eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
		snap = e.snapshot(t)
		return !snap.Loading && !snap.Converting
	}, "tasks did not settle")
	return snap
}

func TestOpen_RejectsNonMarkdown(t *testing.T) {
	e := start(t, nil)
	if _, err := e.s.Open(context.Background(), filepath.Join(e.dir, "notes.txt")); !errors.Is(err, apperr.ErrUnsupportedFile) {
		t.Errorf("err = %v, want ErrUnsupportedFile", err)
	}
}

func TestOpen_SetsCurrentDocument(t *testing.T) {
	e := start(t, nil)
	path := testutil.WriteDoc(t, e.dir, "guide.md", "# Guide\n\nHello\n")

	snap := e.open(t, path)
	if snap.Current != path {
		t.Errorf("current = %q, want %q", snap.Current, path)
	}
	if snap.Title != "Guide" || snap.Failed {
		t.Errorf("snapshot = %+v", snap)
	}
	if !strings.Contains(snap.Page, "<h1 id=\"guide\">Guide</h1>") {
		t.Error("page does not hold the rendered document")
	}
	if snap.Status != "Opened: guide.md" {
		t.Errorf("status = %q", snap.Status)
	}
	if e.pub.count(sse.EventDocumentLoaded) != 1 {
		t.Errorf("document.loaded events = %d", e.pub.count(sse.EventDocumentLoaded))
	}
	if len(e.rec.opens) != 1 || e.rec.opens[0] != path {
		t.Errorf("recorded opens = %v", e.rec.opens)
	}
}

func TestOpen_FailedLoadStillBecomesCurrent(t *testing.T) {
	e := start(t, nil)
	path := filepath.Join(e.dir, "gone.md")

	snap := e.open(t, path)
	if snap.Current != path || !snap.Failed {
		t.Errorf("snapshot = %+v", snap)
	}
	if !strings.Contains(snap.Page, "Error loading file") {
		t.Error("error page not shown")
	}
	if !strings.HasPrefix(snap.Status, "Error loading gone.md") {
		t.Errorf("status = %q", snap.Status)
	}
	if len(e.rec.opens) != 0 {
		t.Errorf("failed load recorded: %v", e.rec.opens)
	}
}

func TestWelcomePageBeforeOpen(t *testing.T) {
	e := start(t, nil)
	snap := e.snapshot(t)
	if snap.Current != "" || snap.Status != StatusReady {
		t.Errorf("snapshot = %+v", snap)
	}
	if !strings.Contains(snap.Page, "Open a Markdown file") {
		t.Error("welcome page missing")
	}
}

func TestTagOperationsRequireDocument(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()

	if _, err := e.s.AddTag(ctx, "A", 10); !errors.Is(err, apperr.ErrNoDocument) {
		t.Errorf("AddTag err = %v", err)
	}
	if err := e.s.DeleteTag(ctx, "A"); !errors.Is(err, apperr.ErrNoDocument) {
		t.Errorf("DeleteTag err = %v", err)
	}
	if _, err := e.s.Convert(ctx, converter.FormatDOCX, ""); !errors.Is(err, apperr.ErrNoDocument) {
		t.Errorf("Convert err = %v", err)
	}
	if _, err := e.s.Reload(ctx); !errors.Is(err, apperr.ErrNoDocument) {
		t.Errorf("Reload err = %v", err)
	}
	if got := e.snapshot(t).Status; got != "Open a file first" {
		t.Errorf("status = %q", got)
	}
	if e.store.Len() != 0 {
		t.Error("store modified without a document")
	}
}

func TestAddTag_DuplicateRejected(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()
	path := e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n")).Current

	added, err := e.s.AddTag(ctx, "A", 10)
	if err != nil || !added {
		t.Fatalf("first AddTag = %v, %v", added, err)
	}
	added, err = e.s.AddTag(ctx, "A", 10)
	if err != nil || added {
		t.Fatalf("second AddTag = %v, %v", added, err)
	}
	if got := e.snapshot(t).Status; !strings.Contains(got, "already exists") {
		t.Errorf("status = %q", got)
	}

	reloaded := tagstore.Load(e.store.Path())
	if tags := reloaded.Tags(path); len(tags) != 1 {
		t.Errorf("persisted tags = %v, want one", tags)
	}
	if e.pub.count(sse.EventTagsChanged) != 1 {
		t.Errorf("tags.changed events = %d, want 1", e.pub.count(sse.EventTagsChanged))
	}
}

func TestAddTag_NegativePosition(t *testing.T) {
	e := start(t, nil)
	e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n"))
	if _, err := e.s.AddTag(context.Background(), "A", -1); !errors.Is(err, apperr.ErrInvalidPosition) {
		t.Errorf("err = %v, want ErrInvalidPosition", err)
	}
}

func TestAddTag_SaveFailureSurfaced(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	store := tagstore.New(filepath.Join(blocker, "tags.json"))
	pub := &fakePublisher{}
	s := New(store, render.New(render.Options{}), &testutil.FakeConverter{},
		WithPublisher(pub), WithLogger(testutil.Logger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()
	defer func() { cancel(); <-done }()

	path := testutil.WriteDoc(t, dir, "a.md", "# A\n")
	if _, err := s.Open(ctx, path); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
		snap, _ := s.Snapshot(ctx)
		return snap.Current != ""
	}, "load did not finish")

	added, err := s.AddTag(ctx, "A", 5)
	if !added || err == nil {
		t.Fatalf("AddTag = %v, %v; want added with save error", added, err)
	}
	snap, _ := s.Snapshot(ctx)
	if !strings.HasPrefix(snap.Status, "Tags not saved") {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Tags != 1 {
		t.Errorf("in-memory tags = %d, want 1", snap.Tags)
	}
}

func TestDeleteTag(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()
	path := e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n")).Current

	if err := e.s.DeleteTag(ctx, "A"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete on empty doc err = %v", err)
	}
	if got := e.snapshot(t).Status; got != "The current file has no tags" {
		t.Errorf("status = %q", got)
	}

	_, _ = e.s.AddTag(ctx, "A", 1)
	_, _ = e.s.AddTag(ctx, "B", 2)
	if err := e.s.DeleteTag(ctx, "C"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete unknown err = %v", err)
	}
	if err := e.s.DeleteTag(ctx, "A"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if err := e.s.DeleteTag(ctx, "B"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	reloaded := tagstore.Load(e.store.Path())
	for _, d := range reloaded.Docs() {
		if d == path {
			t.Error("document key should be removed once its last tag is deleted")
		}
	}
}

func TestTagsListing(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()

	listings, err := e.s.Tags(ctx)
	if err != nil || len(listings) != 0 {
		t.Fatalf("Tags = %v, %v", listings, err)
	}
	if got := e.snapshot(t).Status; got != "No tags" {
		t.Errorf("status = %q", got)
	}

	e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n"))
	_, _ = e.s.AddTag(ctx, "intro", 42)
	listings, _ = e.s.Tags(ctx)
	if len(listings) != 1 || listings[0].Display() != "a.md: intro (位置: 42)" {
		t.Errorf("listings = %+v", listings)
	}
	tags, err := e.s.DocumentTags(ctx)
	if err != nil || len(tags) != 1 || tags[0].Position != 42 {
		t.Errorf("DocumentTags = %v, %v", tags, err)
	}
}

func TestJump(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()

	pos, err := e.s.Jump(ctx, "file.md: A (位置: 42)")
	if err != nil || pos != 42 {
		t.Fatalf("Jump = %d, %v", pos, err)
	}
	ev, ok := e.pub.last(sse.EventViewScroll)
	if !ok {
		t.Fatal("no view.scroll event")
	}
	if data := ev.Data.(map[string]int); data["position"] != 42 {
		t.Errorf("scroll data = %v", data)
	}

	if _, err := e.s.Jump(ctx, "file.md: A"); !errors.Is(err, apperr.ErrPositionNotFound) {
		t.Errorf("err = %v, want ErrPositionNotFound", err)
	}
	if got := e.snapshot(t).Status; got != "Cannot find tag position" {
		t.Errorf("status = %q", got)
	}
	if _, err := e.s.Jump(ctx, "file.md: A (位置: abc)"); !errors.Is(err, apperr.ErrPositionUnparsable) {
		t.Errorf("err = %v, want ErrPositionUnparsable", err)
	}
}

func TestConvert_Success(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()
	path := e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n")).Current

	id, err := e.s.Convert(ctx, converter.FormatDOCX, "")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	snap := e.settle(t)
	if snap.Status != "Converted: a.md -> a.docx" {
		t.Errorf("status = %q", snap.Status)
	}

	reqs := e.conv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %v", reqs)
	}
	want := converter.Request{
		Source:      path,
		Output:      filepath.Join(e.dir, "a.docx"),
		Format:      converter.FormatDOCX,
		ResourceDir: e.dir,
	}
	if reqs[0] != want {
		t.Errorf("request = %+v, want %+v", reqs[0], want)
	}
	convs := e.rec.conversions()
	if len(convs) != 1 || convs[0].TaskID != id || convs[0].Outcome != "succeeded" {
		t.Errorf("recorded conversions = %+v", convs)
	}
}

func TestConvert_UnsupportedFormat(t *testing.T) {
	e := start(t, nil)
	if _, err := e.s.Convert(context.Background(), "pdf", ""); !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestConvert_BusyWhileRunning(t *testing.T) {
	fake := &testutil.FakeConverter{Release: make(chan struct{})}
	e := start(t, fake)
	ctx := context.Background()
	e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n"))

	if _, err := e.s.Convert(ctx, converter.FormatHTML, ""); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if _, err := e.s.Convert(ctx, converter.FormatDOCX, ""); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("second Convert err = %v, want ErrBusy", err)
	}
	if !e.snapshot(t).Converting {
		t.Error("snapshot should report a running conversion")
	}

	close(fake.Release)
	e.settle(t)
	if _, err := e.s.Convert(ctx, converter.FormatDOCX, ""); err != nil {
		t.Errorf("Convert after completion: %v", err)
	}
	e.settle(t)
}

func TestConvert_NotInstalled(t *testing.T) {
	missing := converter.NewPandoc(converter.WithBinary(filepath.Join(t.TempDir(), "pandoc-missing")))
	e := start(t, missing)
	e.open(t, testutil.WriteDoc(t, e.dir, "a.md", "# A\n"))

	if _, err := e.s.Convert(context.Background(), converter.FormatDOCX, ""); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	snap := e.settle(t)
	if !strings.Contains(snap.Status, "converter not installed") || !strings.Contains(snap.Status, converter.DefaultInstallURL) {
		t.Errorf("status = %q", snap.Status)
	}
	convs := e.rec.conversions()
	if len(convs) != 1 || convs[0].Outcome != "not_installed" {
		t.Errorf("recorded conversions = %+v", convs)
	}
}

func TestReload_UnchangedChecksumNotRepublished(t *testing.T) {
	e := start(t, nil)
	ctx := context.Background()
	path := testutil.WriteDoc(t, e.dir, "a.md", "# A\n")
	e.open(t, path)

	if _, err := e.s.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	e.settle(t)
	if n := e.pub.count(sse.EventDocumentLoaded); n != 1 {
		t.Errorf("document.loaded after unchanged reload = %d, want 1", n)
	}

	if err := os.WriteFile(path, []byte("# B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.s.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	snap := e.settle(t)
	if n := e.pub.count(sse.EventDocumentLoaded); n != 2 {
		t.Errorf("document.loaded after change = %d, want 2", n)
	}
	if snap.Title != "B" {
		t.Errorf("title = %q", snap.Title)
	}
}

func TestLoadedHookCalled(t *testing.T) {
	var mu sync.Mutex
	var followed []string
	dir := t.TempDir()
	s := New(testutil.TestStore(t), render.New(render.Options{}), &testutil.FakeConverter{},
		WithLogger(testutil.Logger()),
		WithLoadedHook(func(p string) {
			mu.Lock()
			followed = append(followed, p)
			mu.Unlock()
		}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()
	defer func() { cancel(); <-done }()

	path := testutil.WriteDoc(t, dir, "a.md", "x")
	if _, err := s.Open(ctx, path); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(followed) == 1 && followed[0] == path
	}, "loaded hook not called with the document path")
}

func TestClosedSession(t *testing.T) {
	s := New(testutil.TestStore(t), render.New(render.Options{}), &testutil.FakeConverter{}, WithLogger(testutil.Logger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()
	cancel()
	<-done

	if _, err := s.Snapshot(context.Background()); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestResult_OverlappingLoadAndConvert(t *testing.T) {
	fake := &testutil.FakeConverter{Release: make(chan struct{})}
	dir := t.TempDir()
	s := New(testutil.TestStore(t), render.New(render.Options{}), fake,
		WithLogger(testutil.Logger()),
		WithRunner(task.NewRunner(4, testutil.Logger())))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()
	defer func() { cancel(); <-done }()

	result := func(id uuid.UUID) (TaskResult, bool) {
		t.Helper()
		res, ok, err := s.Result(ctx, id)
		if err != nil {
			t.Fatalf("Result: %v", err)
		}
		return res, ok
	}
	waitResult := func(id uuid.UUID) TaskResult {
		t.Helper()
		var res TaskResult
		testutil.Eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
			var ok bool
			res, ok = result(id)
			return ok
		}, "task did not finish")
		return res
	}

	openA, err := s.Open(ctx, testutil.WriteDoc(t, dir, "a.md", "# A\n"))
	if err != nil {
		t.Fatal(err)
	}
	waitResult(openA)

	convID, err := s.Convert(ctx, converter.FormatDOCX, "")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	loadID, err := s.Open(ctx, testutil.WriteDoc(t, dir, "b.md", "# B\n"))
	if err != nil {
		t.Fatalf("Open during conversion: %v", err)
	}

	if res := waitResult(loadID); res.Failed || res.Text != "Opened: b.md" || res.Kind != task.KindLoad {
		t.Errorf("load result = %+v", res)
	}
	if _, ok := result(convID); ok {
		t.Error("conversion reported finished while the converter is blocked")
	}

	close(fake.Release)
	if res := waitResult(convID); res.Failed || res.Text != "Converted: a.md -> a.docx" || res.Kind != task.KindConvert {
		t.Errorf("convert result = %+v", res)
	}
	if res, _ := result(loadID); res.Text != "Opened: b.md" {
		t.Errorf("load result changed to %+v", res)
	}
}

func TestResult_FailedLoad(t *testing.T) {
	e := start(t, nil)
	id, err := e.s.Open(context.Background(), filepath.Join(e.dir, "missing.md"))
	if err != nil {
		t.Fatal(err)
	}
	var res TaskResult
	testutil.Eventually(t, 5*time.Second, 10*time.Millisecond, func() bool {
		var ok bool
		res, ok, _ = e.s.Result(context.Background(), id)
		return ok
	}, "load did not finish")
	if !res.Failed || !strings.HasPrefix(res.Text, "Error loading missing.md") {
		t.Errorf("result = %+v", res)
	}
}

func TestResult_UnknownID(t *testing.T) {
	e := start(t, nil)
	if _, ok, err := e.s.Result(context.Background(), uuid.New()); ok || err != nil {
		t.Errorf("Result = %v, %v; want not found", ok, err)
	}
}

func TestRemember_KeepsNewestResults(t *testing.T) {
	s := New(testutil.TestStore(t), render.New(render.Options{}), &testutil.FakeConverter{})
	var ids []uuid.UUID
	for range maxResults + 3 {
		id := uuid.New()
		ids = append(ids, id)
		s.remember(TaskResult{ID: id})
	}
	if len(s.results) != maxResults || len(s.resultOrder) != maxResults {
		t.Fatalf("held %d results, order %d; want %d", len(s.results), len(s.resultOrder), maxResults)
	}
	if _, ok := s.results[ids[0]]; ok {
		t.Error("oldest result should be dropped")
	}
	if _, ok := s.results[ids[len(ids)-1]]; !ok {
		t.Error("newest result missing")
	}
}
