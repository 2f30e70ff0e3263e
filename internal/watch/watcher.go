// Package watch re-runs a build when files in the project change.
//
// A Watcher follows every directory under the project root with fsnotify,
// skipping dependency and output trees. Run feeds its events through a
// Debouncer so a burst of saves produces one re-run, and never lets two
// runs overlap.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultIgnore lists directory names that are never watched.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"target",
	"_build",
	"deps",
	"vendor",
	"dist",
	"build",
}

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Event is a change to a path under the root.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes under a directory tree.
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	ignore map[string]bool
	logger zerolog.Logger

	events chan Event
	errors chan error

	mu      sync.Mutex
	watched map[string]bool
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher starts watching root and every directory beneath it that is
// not ignored. Directories created later are picked up as they appear.
func NewWatcher(root string, ignore []string, logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "watch", Path: abs, Err: errors.New("not a directory")}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		root:    abs,
		ignore:  make(map[string]bool),
		logger:  logger,
		events:  make(chan Event, 128),
		errors:  make(chan error, 16),
		watched: make(map[string]bool),
		closeCh: make(chan struct{}),
	}
	for _, name := range DefaultIgnore {
		w.ignore[name] = true
	}
	for _, name := range ignore {
		w.ignore[strings.Trim(name, `/\`)] = true
	}

	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Events returns the change channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns watcher errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

// WatchedCount returns how many directories are being watched.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

// addTree watches dir and its non-ignored subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p, true) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.watched, path)
	w.mu.Unlock()
}

// ignored reports whether path is inside an ignored or hidden directory, or
// is itself hidden. Ignore names apply to directories only.
func (w *Watcher) ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
		last := i == len(parts)-1
		if (!last || isDir) && w.ignore[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn().Err(err).Msg("dropping watcher error")
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// Attribute-only changes do not affect builds.
	if ev.Op == fsnotify.Chmod {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.ignored(ev.Name, isDir) {
		return
	}

	if ev.Has(fsnotify.Create) && isDir {
		if err := w.addTree(ev.Name); err != nil {
			w.logger.Debug().Err(err).Str("dir", ev.Name).Msg("cannot watch new directory")
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.forget(ev.Name)
	}

	select {
	case w.events <- Event{Path: ev.Name, Op: ev.Op}:
	case <-w.closeCh:
	}
}
