// Package parser separates YAML frontmatter from a Markdown document and
// derives the document title.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        []byte
	Title       string
}

// Parse splits frontmatter from body and derives the title. It never fails:
// a missing closing delimiter or invalid YAML leaves the whole input as body.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}
}

func splitFrontmatter(data []byte) (map[string]any, []byte) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	n := delimLine(trimmed)
	if n < 0 {
		return nil, data
	}

	rest := trimmed[n:]
	var block, after []byte
	for off := 0; ; {
		i := bytes.Index(rest[off:], []byte("\n"+delim))
		if i < 0 {
			return nil, data
		}
		start := off + i + 1
		if m := delimLine(rest[start:]); m >= 0 {
			block = rest[:start]
			after = bytes.TrimLeft(rest[start+m:], "\n\r")
			break
		}
		off = start
	}

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil || fm == nil {
		// Not frontmatter after all; a leading thematic break is valid Markdown.
		return nil, data
	}
	return fm, after
}

// delimLine returns the length of the "---" line b starts with, line ending
// included, or -1 when the first line of b is anything else.
func delimLine(b []byte) int {
	if !bytes.HasPrefix(b, []byte(delim)) {
		return -1
	}
	switch rest := b[len(delim):]; {
	case len(rest) == 0:
		return len(delim)
	case rest[0] == '\n':
		return len(delim) + 1
	case bytes.HasPrefix(rest, []byte("\r\n")):
		return len(delim) + 2
	}
	return -1
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// ATX H1 heading, otherwise "".
func deriveTitle(fm map[string]any, body []byte) string {
	if t, ok := fm["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
