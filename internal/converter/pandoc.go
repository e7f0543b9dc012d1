// Package converter runs the external document converter (pandoc) that turns
// a Markdown file into DOCX or standalone HTML.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/starford/mdview/internal/apperr"
)

var commandContext = exec.CommandContext

// DefaultBinary is looked up on PATH when no bundled converter is found.
const DefaultBinary = "pandoc"

// DefaultInstallURL is shown to the user when the converter is missing.
const DefaultInstallURL = "https://pandoc.org/installing.html"

// Supported target formats.
const (
	FormatDOCX = "docx"
	FormatHTML = "html"
)

// Formats lists the supported target formats.
var Formats = []string{FormatDOCX, FormatHTML}

// Request describes one conversion.
type Request struct {
	Source string
	Output string
	Format string
	// ResourceDir is where the converter resolves relative assets of Source.
	ResourceDir string
}

// Converter turns a source document into another format.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// ExitError reports a converter run that ended with a non-zero exit code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("converter exited with code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

// Option configures the Pandoc client.
type Option func(*Pandoc)

// WithBinary overrides the default binary name or path.
func WithBinary(binary string) Option {
	return func(p *Pandoc) {
		if binary != "" {
			p.binary = binary
		}
	}
}

// Pandoc wraps the pandoc command-line converter.
type Pandoc struct {
	binary string
}

// NewPandoc constructs a client using defaults.
func NewPandoc(opts ...Option) *Pandoc {
	p := &Pandoc{binary: DefaultBinary}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Binary returns the command the client runs.
func (p *Pandoc) Binary() string {
	return p.binary
}

// Args returns the converter arguments for req.
func (p *Pandoc) Args(req Request) []string {
	return []string{
		req.Source,
		"-o", req.Output,
		"--embed-resources",
		"--standalone",
		"--resource-path=" + req.ResourceDir,
	}
}

// Convert runs pandoc to completion. Standard output is discarded and
// standard error is kept for the failure message.
func (p *Pandoc) Convert(ctx context.Context, req Request) error {
	if req.Source == "" {
		return errors.New("source path required")
	}
	if req.Output == "" {
		return errors.New("output path required")
	}
	if req.ResourceDir == "" {
		req.ResourceDir = filepath.Dir(req.Source)
	}

	cmd := commandContext(ctx, p.binary, p.Args(req)...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", apperr.ErrNotInstalled, p.binary)
	}
	return fmt.Errorf("start %s: %w", p.binary, err)
}

var _ Converter = (*Pandoc)(nil)

// ResolveBinary prefers a converter shipped in bundledDir (relative paths are
// taken from the executable's directory) and otherwise returns binary.
func ResolveBinary(binary, bundledDir string) string {
	if binary == "" {
		binary = DefaultBinary
	}
	if bundledDir == "" {
		return binary
	}
	dir := bundledDir
	if !filepath.IsAbs(dir) {
		exe, err := os.Executable()
		if err != nil {
			return binary
		}
		dir = filepath.Join(filepath.Dir(exe), dir)
	}
	name := filepath.Base(binary)
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	candidate := filepath.Join(dir, name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return binary
}

// OutputPath returns output if set, otherwise <source dir>/<stem>.<format>.
func OutputPath(source, format, output string) string {
	if output != "" {
		return output
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(source), stem+"."+format)
}

// ValidFormat reports whether format is a supported target.
func ValidFormat(format string) bool {
	return slices.Contains(Formats, format)
}
