package session

import (
	"log/slog"

	"github.com/starford/mdview/internal/task"
)

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithPublisher sets where view events go.
func WithPublisher(p Publisher) Option {
	return func(s *Session) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithRecorder records opened documents and finished conversions.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.rec = r
	}
}

// WithLoadedHook is called on the loop after each load completes. It must not block.
func WithLoadedHook(fn func(path string)) Option {
	return func(s *Session) {
		s.onLoaded = fn
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInstallURL sets the link shown when the converter is missing.
func WithInstallURL(url string) Option {
	return func(s *Session) {
		if url != "" {
			s.installURL = url
		}
	}
}

// WithRunner replaces the default task runner.
func WithRunner(r *task.Runner) Option {
	return func(s *Session) {
		s.runner = r
	}
}
