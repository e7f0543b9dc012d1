// Package watch follows the file currently shown in the viewer and reports
// when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// ChangeCallback is called with the followed path after it was written.
type ChangeCallback func(path string)

// Watcher watches the directory of a single followed file. Editors that
// save by renaming a temp file over the target show up as a Create there.
type Watcher struct {
	logger   *slog.Logger
	debounce time.Duration
	fsw      *fsnotify.Watcher
	follow   chan string
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new watcher: %w", err)
	}
	return &Watcher{
		logger:   logger,
		debounce: debounce,
		fsw:      fsw,
		follow:   make(chan string, 1),
	}, nil
}

// Follow retargets the watcher to path. It never blocks; when several
// calls race ahead of Run, the latest one wins.
func (w *Watcher) Follow(path string) {
	for {
		select {
		case w.follow <- path:
			return
		default:
		}
		select {
		case <-w.follow:
		default:
		}
	}
}

// Run processes file events until ctx is cancelled and closes the
// underlying watcher on return.
func (w *Watcher) Run(ctx context.Context, cb ChangeCallback) error {
	defer w.fsw.Close()

	var (
		target  string
		dir     string
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case path := <-w.follow:
			path = filepath.Clean(path)
			if path == target {
				continue
			}
			newDir := filepath.Dir(path)
			if newDir != dir {
				if dir != "" {
					_ = w.fsw.Remove(dir)
				}
				if err := w.fsw.Add(newDir); err != nil {
					w.logger.Warn("watcher: add dir failed",
						slog.String("path", newDir),
						slog.String("error", err.Error()))
					target, dir = "", ""
					continue
				}
				dir = newDir
			}
			target = path
			w.logger.Debug("watcher: following", slog.String("path", target))

		case <-timerCh:
			if target != "" && cb != nil {
				w.logger.Debug("watcher: changed", slog.String("path", target))
				cb(target)
			}

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if target == "" || filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}
