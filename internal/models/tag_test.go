package models

import (
	"errors"
	"testing"

	"github.com/starford/mdview/internal/apperr"
)

func TestListingDisplay(t *testing.T) {
	l := Listing{Doc: "/docs/notes/file.md", Tag: Tag{Name: "A", Position: 42}}
	if got, want := l.Display(), "file.md: A (位置: 42)"; got != want {
		t.Errorf("Display() = %q, want %q", got, want)
	}
}

func TestJumpTarget(t *testing.T) {
	pos, err := JumpTarget("file.md: A (位置: 42)")
	if err != nil {
		t.Fatalf("JumpTarget: %v", err)
	}
	if pos != 42 {
		t.Errorf("position = %d, want 42", pos)
	}
}

func TestJumpTarget_RoundTripsDisplay(t *testing.T) {
	l := Listing{Doc: "/a/b.md", Tag: Tag{Name: "intro (位置: 7)", Position: 1200}}
	pos, err := JumpTarget(l.Display())
	if err != nil {
		t.Fatalf("JumpTarget: %v", err)
	}
	if pos != 1200 {
		t.Errorf("position = %d, want 1200", pos)
	}
}

func TestJumpTarget_MissingMarker(t *testing.T) {
	_, err := JumpTarget("file.md: legacy")
	if !errors.Is(err, apperr.ErrPositionNotFound) {
		t.Fatalf("err = %v, want ErrPositionNotFound", err)
	}
}

func TestJumpTarget_NotAnInteger(t *testing.T) {
	_, err := JumpTarget("file.md: A (位置: 12.5)")
	if !errors.Is(err, apperr.ErrPositionUnparsable) {
		t.Fatalf("err = %v, want ErrPositionUnparsable", err)
	}
}

func TestIsMarkdown(t *testing.T) {
	cases := map[string]bool{
		"/tmp/a.md":       true,
		"notes.md":        true,
		"/tmp/a.markdown": false,
		"/tmp/a.MD":       false,
		"/tmp/a.txt":      false,
	}
	for path, want := range cases {
		if got := IsMarkdown(path); got != want {
			t.Errorf("IsMarkdown(%q) = %v, want %v", path, got, want)
		}
	}
}
