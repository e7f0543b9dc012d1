// Package session is the viewer's control loop. One goroutine owns the tag
// store, the current document and the status line; everything else talks
// to it through requests and task messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/models"
	"github.com/starford/mdview/internal/render"
	"github.com/starford/mdview/internal/sse"
	"github.com/starford/mdview/internal/tagstore"
	"github.com/starford/mdview/internal/task"
)

// StatusReady is the status line before anything happened.
const StatusReady = "Ready"

// Publisher receives view events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(sse.Event)
}

// Recorder keeps the open and conversion history. *history.DB satisfies it.
type Recorder interface {
	RecordOpen(ctx context.Context, path, title, checksum string) error
	RecordConversion(ctx context.Context, c history.Conversion) error
}

// Snapshot is a read-only view of the loop state.
type Snapshot struct {
	Current    string `json:"current,omitempty"`
	Title      string `json:"title,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	Failed     bool   `json:"failed"`
	Status     string `json:"status"`
	Loading    bool   `json:"loading"`
	Converting bool   `json:"converting"`
	Tags       int    `json:"tags"`
	// Page is the HTML served for the view: the document or the welcome page.
	Page string `json:"-"`
}

// maxResults bounds how many finished task results the loop remembers.
const maxResults = 64

// TaskResult is the outcome of a finished task as the loop applied it.
type TaskResult struct {
	ID     uuid.UUID `json:"id"`
	Kind   task.Kind `json:"kind"`
	Failed bool      `json:"failed"`
	Text   string    `json:"text"`
}

// Session is the control loop. Construct with New and start Run before
// calling any other method.
type Session struct {
	store    *tagstore.Store
	renderer *render.Renderer
	conv     converter.Converter
	runner   *task.Runner

	pub        Publisher
	rec        Recorder
	onLoaded   func(path string)
	logger     *slog.Logger
	installURL string

	reqCh   chan func(ctx context.Context)
	stopped chan struct{}
	running atomic.Bool

	// Owned by the loop goroutine.
	current     string
	doc         *render.Document
	status      string
	results     map[uuid.UUID]TaskResult
	resultOrder []uuid.UUID
}

// New creates a session around store. Tags are read and written only by
// the loop once Run starts.
func New(store *tagstore.Store, renderer *render.Renderer, conv converter.Converter, opts ...Option) *Session {
	s := &Session{
		store:      store,
		renderer:   renderer,
		conv:       conv,
		pub:        nopPublisher{},
		logger:     slog.Default(),
		installURL: converter.DefaultInstallURL,
		reqCh:      make(chan func(ctx context.Context)),
		stopped:    make(chan struct{}),
		status:     StatusReady,
		results:    make(map[uuid.UUID]TaskResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = task.NewRunner(32, s.logger)
	}
	return s
}

// Run drives the loop until ctx is cancelled. It returns after all task
// goroutines have exited.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session: already running")
	}
	defer close(s.stopped)

	s.logger.Info("session: started", slog.String("tags_path", s.store.Path()))
	for {
		select {
		case <-ctx.Done():
			s.runner.Wait()
			s.logger.Info("session: stopped")
			return nil
		case fn := <-s.reqCh:
			fn(ctx)
		case m := <-s.runner.Messages():
			s.handle(ctx, m)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	req := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}
	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return apperr.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return apperr.ErrClosed
	}
}

// Open starts loading the Markdown file at path.
func (s *Session) Open(ctx context.Context, path string) (uuid.UUID, error) {
	if !models.IsMarkdown(path) {
		return uuid.Nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFile, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session: resolve %s: %w", path, err)
	}
	var id uuid.UUID
	err = s.call(ctx, func(ctx context.Context) error {
		var derr error
		id, derr = s.dispatchLoad(ctx, abs)
		return derr
	})
	return id, err
}

// Reload loads the current document again.
func (s *Session) Reload(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.call(ctx, func(ctx context.Context) error {
		if s.current == "" {
			return s.noDocument()
		}
		var err error
		id, err = s.dispatchLoad(ctx, s.current)
		return err
	})
	return id, err
}

// AddTag tags position in the current document. It reports false when an
// identical tag already exists. The tag is kept in memory even when saving
// the store fails; that error is returned.
func (s *Session) AddTag(ctx context.Context, name string, position int) (bool, error) {
	var added bool
	err := s.call(ctx, func(context.Context) error {
		if s.current == "" {
			return s.noDocument()
		}
		var err error
		added, err = s.store.Add(s.current, name, position)
		switch {
		case err != nil && !added:
			s.setStatus(fmt.Sprintf("Cannot add tag: %v", err))
			return err
		case !added:
			s.setStatus(fmt.Sprintf("Tag %q already exists in the current file", name))
			return nil
		}
		s.publishTags()
		if err != nil {
			s.saveFailed(err)
			return err
		}
		s.setStatus(fmt.Sprintf("Added tag %q to the current file, position: %d", name, position))
		return nil
	})
	return added, err
}

// Tags lists every tag in the store, document by document.
func (s *Session) Tags(ctx context.Context) ([]models.Listing, error) {
	var out []models.Listing
	err := s.call(ctx, func(context.Context) error {
		s.store.Refresh()
		out = s.store.List()
		if len(out) == 0 {
			s.setStatus("No tags")
		}
		return nil
	})
	return out, err
}

// DocumentTags lists the tags of the current document.
func (s *Session) DocumentTags(ctx context.Context) ([]models.Tag, error) {
	var out []models.Tag
	err := s.call(ctx, func(context.Context) error {
		if s.current == "" {
			return s.noDocument()
		}
		s.store.Refresh()
		out = s.store.Tags(s.current)
		return nil
	})
	return out, err
}

// DeleteTag removes the first tag named name from the current document.
func (s *Session) DeleteTag(ctx context.Context, name string) error {
	return s.call(ctx, func(context.Context) error {
		if s.current == "" {
			return s.noDocument()
		}
		if len(s.store.Tags(s.current)) == 0 {
			s.setStatus("The current file has no tags")
			return fmt.Errorf("session: %s has no tags: %w", filepath.Base(s.current), apperr.ErrNotFound)
		}
		err := s.store.Delete(s.current, name)
		if errors.Is(err, apperr.ErrNotFound) {
			s.setStatus(fmt.Sprintf("No tag named %q in the current file", name))
			return err
		}
		s.publishTags()
		if err != nil {
			s.saveFailed(err)
			return err
		}
		s.setStatus(fmt.Sprintf("Deleted tag %q", name))
		return nil
	})
}

// Jump scrolls the view to the position encoded in a tag listing.
func (s *Session) Jump(ctx context.Context, text string) (int, error) {
	var pos int
	err := s.call(ctx, func(context.Context) error {
		var err error
		pos, err = models.JumpTarget(text)
		switch {
		case errors.Is(err, apperr.ErrPositionNotFound):
			s.setStatus("Cannot find tag position")
			return err
		case err != nil:
			s.setStatus("Cannot parse tag position")
			return err
		}
		s.pub.Publish(sse.Event{Type: sse.EventViewScroll, Data: map[string]int{"position": pos}})
		s.setStatus(fmt.Sprintf("Jumped to tag position: %d", pos))
		return nil
	})
	return pos, err
}

// Convert starts converting the current document to format. An empty
// output writes next to the source.
func (s *Session) Convert(ctx context.Context, format, output string) (uuid.UUID, error) {
	if !converter.ValidFormat(format) {
		return uuid.Nil, fmt.Errorf("%w: %q", apperr.ErrUnsupportedFormat, format)
	}
	if output != "" {
		abs, err := filepath.Abs(output)
		if err != nil {
			return uuid.Nil, fmt.Errorf("session: resolve %s: %w", output, err)
		}
		output = abs
	}
	var id uuid.UUID
	err := s.call(ctx, func(ctx context.Context) error {
		if s.current == "" {
			return s.noDocument()
		}
		req := converter.Request{
			Source:      s.current,
			Output:      converter.OutputPath(s.current, format, output),
			Format:      format,
			ResourceDir: filepath.Dir(s.current),
		}
		t := task.NewConvertTask(req, s.conv)
		if err := s.runner.Dispatch(ctx, t); err != nil {
			s.setStatus("Busy: a conversion is already running")
			return err
		}
		id = t.ID()
		return nil
	})
	return id, err
}

// Snapshot returns the current loop state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(context.Context) {
		snap = Snapshot{
			Current:    s.current,
			Status:     s.status,
			Loading:    s.runner.Busy(task.KindLoad),
			Converting: s.runner.Busy(task.KindConvert),
		}
		if s.doc != nil {
			snap.Title = s.doc.Title
			snap.Checksum = s.doc.Checksum
			snap.Failed = s.doc.Failed
			snap.Page = s.doc.HTML
		} else {
			snap.Page = s.renderer.Welcome(s.status)
		}
		if s.current != "" {
			snap.Tags = len(s.store.Tags(s.current))
		}
	})
	return snap, err
}

// Result returns the outcome of task id. ok is false while the task is
// still running, and for ids the loop never saw or has since forgotten.
func (s *Session) Result(ctx context.Context, id uuid.UUID) (res TaskResult, ok bool, err error) {
	err = s.do(ctx, func(context.Context) {
		res, ok = s.results[id]
	})
	return res, ok, err
}

// call runs fn on the loop and returns its error.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	var ferr error
	if err := s.do(ctx, func(ctx context.Context) { ferr = fn(ctx) }); err != nil {
		return err
	}
	return ferr
}

func (s *Session) dispatchLoad(ctx context.Context, path string) (uuid.UUID, error) {
	t := task.NewLoadTask(path, s.renderer)
	if err := s.runner.Dispatch(ctx, t); err != nil {
		s.setStatus("Busy: a file is still loading")
		return uuid.Nil, err
	}
	s.setStatus(fmt.Sprintf("Opening: %s...", filepath.Base(path)))
	return t.ID(), nil
}

// remember keeps r for Result, dropping the oldest once maxResults are held.
func (s *Session) remember(r TaskResult) {
	if _, seen := s.results[r.ID]; !seen {
		s.resultOrder = append(s.resultOrder, r.ID)
	}
	s.results[r.ID] = r
	for len(s.resultOrder) > maxResults {
		delete(s.results, s.resultOrder[0])
		s.resultOrder = s.resultOrder[1:]
	}
}

func (s *Session) noDocument() error {
	s.setStatus("Open a file first")
	return apperr.ErrNoDocument
}

func (s *Session) saveFailed(err error) {
	s.logger.Warn("session: save tags failed",
		slog.String("path", s.store.Path()),
		slog.String("error", err.Error()))
	s.setStatus(fmt.Sprintf("Tags not saved: %v", err))
}

func (s *Session) setStatus(text string) {
	s.status = text
	s.pub.Publish(sse.Event{Type: sse.EventStatus, Data: map[string]string{"text": text}})
}

func (s *Session) publishTags() {
	tags := s.store.Tags(s.current)
	if tags == nil {
		tags = []models.Tag{}
	}
	s.pub.Publish(sse.Event{Type: sse.EventTagsChanged, Data: map[string]any{
		"doc":  s.current,
		"tags": tags,
	}})
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event) {}
