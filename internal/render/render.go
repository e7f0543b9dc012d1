// Package render turns Markdown source into a complete, self-contained HTML
// page for the view, with client-side math and diagram rendering.
package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/starford/mdview/internal/parser"
)

// Default script locations, matching what the page has always loaded.
const (
	DefaultMathJaxURL = "https://cdnjs.cloudflare.com/ajax/libs/mathjax/2.7.7/MathJax.js?config=TeX-AMS-MML_HTMLorMML"
	DefaultMermaidURL = "https://cdn.jsdelivr.net/npm/mermaid/dist/mermaid.min.js"
)

// Options configures the page shell.
type Options struct {
	MathJaxURL string
	MermaidURL string
	// AssetBase is the URL prefix relative links resolve against.
	AssetBase string
	// EventsURL is the SSE endpoint the view script subscribes to. Empty disables it.
	EventsURL string
	// TagsURL receives the view's add-tag requests.
	TagsURL string
}

// Document is a rendered page.
type Document struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	HTML     string `json:"-"`
	Checksum string `json:"checksum"`
	// Failed marks an error placeholder rather than rendered content.
	Failed bool `json:"failed"`
}

// Renderer is safe for concurrent use.
type Renderer struct {
	md   goldmark.Markdown
	opts Options
}

// New creates a renderer with the given options; empty script URLs fall back to the defaults.
func New(opts Options) *Renderer {
	if opts.MathJaxURL == "" {
		opts.MathJaxURL = DefaultMathJaxURL
	}
	if opts.MermaidURL == "" {
		opts.MermaidURL = DefaultMermaidURL
	}
	return &Renderer{md: newMarkdown(), opts: opts}
}

// Markup converts Markdown source to an HTML fragment.
func (r *Renderer) Markup(source []byte) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return "", fmt.Errorf("render: convert markdown: %w", err)
	}
	return buf.String(), nil
}

// Render converts the document at path, whose content is source, into a full page.
func (r *Renderer) Render(path string, source []byte) (*Document, error) {
	res := parser.Parse(source)
	body, err := r.Markup(res.Body)
	if err != nil {
		return nil, err
	}
	title := res.Title
	if title == "" {
		title = filepath.Base(path)
	}
	sum := Sum(source)
	page, err := r.page(title, sum, template.HTML(body))
	if err != nil {
		return nil, err
	}
	return &Document{
		Path:     path,
		Title:    title,
		HTML:     page,
		Checksum: sum,
	}, nil
}

// ErrorPage renders the placeholder shown when a document cannot be loaded.
func (r *Renderer) ErrorPage(path string, cause error) *Document {
	body := fmt.Sprintf("<h1>Error loading file: %s</h1>", template.HTMLEscapeString(cause.Error()))
	title := filepath.Base(path)
	sum := Sum([]byte(body))
	page, err := r.page(title, sum, template.HTML(body))
	if err != nil {
		page = "<html><body>" + body + "</body></html>"
	}
	return &Document{Path: path, Title: title, HTML: page, Checksum: sum, Failed: true}
}

// Welcome renders the page shown before any document is open.
func (r *Renderer) Welcome(status string) string {
	body := "<p class=\"welcome\">Open a Markdown file to start reading.</p>"
	if status = strings.TrimSpace(status); status != "" {
		body += "<p class=\"status\">" + template.HTMLEscapeString(status) + "</p>"
	}
	page, err := r.page("mdview", "", template.HTML(body))
	if err != nil {
		return "<html><body>" + body + "</body></html>"
	}
	return page
}

func (r *Renderer) page(title, checksum string, body template.HTML) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, pageData{
		Title:      title,
		Checksum:   checksum,
		Body:       body,
		MathJaxURL: r.opts.MathJaxURL,
		MermaidURL: r.opts.MermaidURL,
		AssetBase:  r.opts.AssetBase,
		EventsURL:  r.opts.EventsURL,
		TagsURL:    r.opts.TagsURL,
	})
	if err != nil {
		return "", fmt.Errorf("render: page: %w", err)
	}
	return buf.String(), nil
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
