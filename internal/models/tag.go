// Package models defines the domain types for mdview.
package models

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/starford/mdview/internal/apperr"
)

// PositionMarker precedes the scroll offset in a listing's display text.
// Existing listings were written with this exact marker.
const PositionMarker = "(位置: "

// MarkdownExt is the only extension accepted for opening.
const MarkdownExt = ".md"

// Tag is a named scroll offset (in pixels) within a rendered document.
type Tag struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Listing pairs a tag with the document it belongs to.
type Listing struct {
	Doc string `json:"doc"`
	Tag Tag    `json:"tag"`
}

// Display renders the listing as "<base>: <name> (位置: <position>)".
func (l Listing) Display() string {
	return fmt.Sprintf("%s: %s %s%d)", filepath.Base(l.Doc), l.Tag.Name, PositionMarker, l.Tag.Position)
}

// JumpTarget recovers the scroll position from a listing's display text.
func JumpTarget(text string) (int, error) {
	idx := strings.LastIndex(text, PositionMarker)
	if idx < 0 {
		return 0, apperr.ErrPositionNotFound
	}
	raw := strings.TrimSpace(strings.TrimRight(text[idx+len(PositionMarker):], ")"))
	pos, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", apperr.ErrPositionUnparsable, raw)
	}
	return pos, nil
}

// IsMarkdown reports whether path carries the Markdown extension.
func IsMarkdown(path string) bool {
	return strings.HasSuffix(path, MarkdownExt)
}
