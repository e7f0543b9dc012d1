package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/starford/mdview/internal/render"
)

var errNotUTF8 = errors.New("file is not valid UTF-8 text")

// LoadTask reads a Markdown file and renders it into a page.
type LoadTask struct {
	base
	path     string
	renderer *render.Renderer
}

// NewLoadTask creates a load task for the file at path.
func NewLoadTask(path string, r *render.Renderer) *LoadTask {
	t := &LoadTask{path: path, renderer: r}
	t.init(KindLoad)
	return t
}

// Path returns the file the task loads.
func (t *LoadTask) Path() string {
	return t.path
}

func (t *LoadTask) Run(ctx context.Context, emit func(Message)) error {
	if err := t.claim(); err != nil {
		return err
	}
	name := filepath.Base(t.path)

	t.enter(StateReading, fmt.Sprintf("Reading %s...", name), emit)
	data, err := os.ReadFile(t.path)
	if err != nil {
		t.fail(err, emit)
		return nil
	}
	if !utf8.Valid(data) {
		t.fail(errNotUTF8, emit)
		return nil
	}
	if err := ctx.Err(); err != nil {
		t.fail(err, emit)
		return nil
	}

	t.enter(StateTransforming, fmt.Sprintf("Rendering %s...", name), emit)
	doc, err := t.renderer.Render(t.path, data)
	if err != nil {
		t.fail(err, emit)
		return nil
	}

	m := t.enter(StateDone, fmt.Sprintf("Opened: %s", name), emit)
	m.Load = &LoadResult{Path: t.path, Document: doc}
	emit(m)
	return nil
}

func (t *LoadTask) fail(err error, emit func(Message)) {
	m := t.enter(StateFailed, fmt.Sprintf("Error loading %s: %v", filepath.Base(t.path), err), emit)
	m.Load = &LoadResult{Path: t.path, Document: t.renderer.ErrorPage(t.path, err), Err: err}
	emit(m)
}

var _ Task = (*LoadTask)(nil)
