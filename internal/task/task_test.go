package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/render"
)

// collect runs t synchronously and returns every message it emitted.
func collect(t *testing.T, tk Task) []Message {
	t.Helper()
	var msgs []Message
	if err := tk.Run(context.Background(), func(m Message) { msgs = append(msgs, m) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return msgs
}

func states(msgs []Message) []State {
	out := make([]State, len(msgs))
	for i, m := range msgs {
		out[i] = m.State
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type stubConverter struct {
	err  error
	reqs []converter.Request
}

func (s *stubConverter) Convert(_ context.Context, req converter.Request) error {
	s.reqs = append(s.reqs, req)
	return s.err
}

func TestLoadTask_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte("# Title\n\ntext\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tk := NewLoadTask(path, render.New(render.Options{}))
	msgs := collect(t, tk)

	want := []State{StateReading, StateTransforming, StateDone}
	if !equalStates(states(msgs), want) {
		t.Fatalf("states = %v, want %v", states(msgs), want)
	}
	last := msgs[len(msgs)-1]
	if last.Load == nil || last.Load.Document == nil {
		t.Fatal("terminal message has no document")
	}
	if last.Load.Document.Title != "Title" || last.Load.Err != nil {
		t.Errorf("result = %+v", last.Load)
	}
	if tk.State() != StateDone {
		t.Errorf("task state = %v", tk.State())
	}
	for _, m := range msgs {
		if m.TaskID != tk.ID() || m.Kind != KindLoad {
			t.Errorf("message %+v not attributed to task", m)
		}
	}
}

func TestLoadTask_MissingFileDegradesToErrorPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.md")
	tk := NewLoadTask(path, render.New(render.Options{}))
	msgs := collect(t, tk)

	want := []State{StateReading, StateFailed}
	if !equalStates(states(msgs), want) {
		t.Fatalf("states = %v, want %v", states(msgs), want)
	}
	res := msgs[len(msgs)-1].Load
	if res == nil || res.Document == nil {
		t.Fatal("failed load must still carry a document")
	}
	if !res.Document.Failed || !strings.Contains(res.Document.HTML, "Error loading file") {
		t.Errorf("document is not an error page: %+v", res.Document)
	}
	if !errors.Is(res.Err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", res.Err)
	}
}

func TestLoadTask_InvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.md")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x41}, 0o644); err != nil {
		t.Fatal(err)
	}
	msgs := collect(t, NewLoadTask(path, render.New(render.Options{})))
	last := msgs[len(msgs)-1]
	if last.State != StateFailed || !errors.Is(last.Load.Err, errNotUTF8) {
		t.Errorf("last = %+v", last)
	}
}

func TestLoadTask_OneShot(t *testing.T) {
	tk := NewLoadTask(filepath.Join(t.TempDir(), "x.md"), render.New(render.Options{}))
	_ = collect(t, tk)
	if err := tk.Run(context.Background(), func(Message) {}); !errors.Is(err, ErrSpent) {
		t.Errorf("second Run err = %v, want ErrSpent", err)
	}
}

func TestConvertTask_Succeeded(t *testing.T) {
	conv := &stubConverter{}
	req := converter.Request{Source: "/d/a.md", Output: "/d/a.docx", Format: "docx", ResourceDir: "/d"}
	tk := NewConvertTask(req, conv)
	if tk.Request() != req {
		t.Errorf("Request() = %+v, want %+v", tk.Request(), req)
	}
	msgs := collect(t, tk)

	want := []State{StateInvoking, StateSucceeded}
	if !equalStates(states(msgs), want) {
		t.Fatalf("states = %v, want %v", states(msgs), want)
	}
	res := msgs[1].Convert
	if res.Outcome != OutcomeSucceeded || res.Message != "Converted: a.md -> a.docx" {
		t.Errorf("result = %+v", res)
	}
	if len(conv.reqs) != 1 || conv.reqs[0] != req {
		t.Errorf("converter called with %v", conv.reqs)
	}
}

func TestConvertTask_ExitFailure(t *testing.T) {
	conv := &stubConverter{err: &converter.ExitError{Code: 1, Stderr: "bad input"}}
	msgs := collect(t, NewConvertTask(converter.Request{Source: "/d/a.md", Output: "/d/a.html", Format: "html"}, conv))
	res := msgs[len(msgs)-1].Convert
	if res.Outcome != OutcomeFailed || res.ExitCode != 1 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Message, "bad input") {
		t.Errorf("stderr missing from message %q", res.Message)
	}
}

func TestConvertTask_NotInstalled(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-pandoc")
	conv := converter.NewPandoc(converter.WithBinary(missing))
	msgs := collect(t, NewConvertTask(converter.Request{Source: "/d/a.md", Output: "/d/a.docx", Format: "docx"}, conv))

	last := msgs[len(msgs)-1]
	if last.State != StateFailed {
		t.Fatalf("state = %v", last.State)
	}
	if last.Convert.Outcome != OutcomeNotInstalled {
		t.Errorf("outcome = %v, want %v", last.Convert.Outcome, OutcomeNotInstalled)
	}
	if !strings.Contains(last.Convert.Message, "not installed") {
		t.Errorf("message = %q", last.Convert.Message)
	}
}

func TestConvertTask_OtherError(t *testing.T) {
	conv := &stubConverter{err: errors.New("permission denied")}
	msgs := collect(t, NewConvertTask(converter.Request{Source: "/d/a.md", Output: "/d/a.docx"}, conv))
	if got := msgs[len(msgs)-1].Convert.Outcome; got != OutcomeError {
		t.Errorf("outcome = %v, want %v", got, OutcomeError)
	}
}

// blockingConverter holds Convert until release is closed.
type blockingConverter struct {
	release chan struct{}
}

func (b *blockingConverter) Convert(ctx context.Context, _ converter.Request) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitTerminal(t *testing.T, r *Runner) Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-r.Messages():
			if m.Terminal() {
				return m
			}
		case <-timeout:
			t.Fatal("timeout waiting for terminal message")
		}
	}
}

func TestRunner_RejectsSecondTaskOfSameKind(t *testing.T) {
	r := NewRunner(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := &blockingConverter{release: make(chan struct{})}
	first := NewConvertTask(converter.Request{Source: "/d/a.md", Output: "/d/a.docx"}, conv)
	if err := r.Dispatch(ctx, first); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	second := NewConvertTask(converter.Request{Source: "/d/b.md", Output: "/d/b.docx"}, conv)
	if err := r.Dispatch(ctx, second); !errors.Is(err, apperr.ErrBusy) {
		t.Fatalf("second Dispatch err = %v, want ErrBusy", err)
	}
	if second.State() != StateIdle {
		t.Errorf("rejected task should stay idle, got %v", second.State())
	}

	// A load may run alongside the conversion.
	load := NewLoadTask(filepath.Join(t.TempDir(), "x.md"), render.New(render.Options{}))
	if err := r.Dispatch(ctx, load); err != nil {
		t.Fatalf("load Dispatch: %v", err)
	}
	m := waitTerminal(t, r)
	if m.Kind != KindLoad || !r.Settle(m) {
		t.Fatalf("expected load to settle first, got %+v", m)
	}

	close(conv.release)
	m = waitTerminal(t, r)
	if m.TaskID != first.ID() {
		t.Fatalf("terminal message from %v, want %v", m.TaskID, first.ID())
	}
	if !r.Busy(KindConvert) {
		t.Error("slot should stay busy until settled")
	}
	if !r.Settle(m) || r.Busy(KindConvert) {
		t.Error("settle should free the convert slot")
	}
	if err := r.Dispatch(ctx, NewConvertTask(converter.Request{Source: "/d/c.md", Output: "/d/c.docx"}, &stubConverter{})); err != nil {
		t.Errorf("dispatch after settle: %v", err)
	}
	waitTerminal(t, r)
	r.Wait()
}

func TestRunner_SettleIgnoresProgressAndStrangers(t *testing.T) {
	r := NewRunner(1, nil)
	if r.Settle(Message{Kind: KindLoad, State: StateReading}) {
		t.Error("progress message must not settle")
	}
	if r.Settle(Message{Kind: KindLoad, State: StateDone}) {
		t.Error("message for unknown task must not settle")
	}
}

func TestRunner_SpentTaskReleasesSlot(t *testing.T) {
	r := NewRunner(4, nil)
	ctx := context.Background()
	tk := NewConvertTask(converter.Request{Source: "/d/a.md", Output: "/d/a.docx"}, &stubConverter{})
	_ = collect(t, tk)

	if err := r.Dispatch(ctx, tk); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	m := waitTerminal(t, r)
	if m.State != StateFailed || !r.Settle(m) {
		t.Errorf("spent task message = %+v", m)
	}
	r.Wait()
}
