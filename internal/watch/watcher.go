// Package watch reports changes to selected files under a directory. The
// daemon uses it to raise the reload event when its config changes.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is used when [Options.PollInterval] is zero.
const DefaultPollInterval = 2 * time.Second

// Options configures a [Watcher].
type Options struct {
	// Dir is the directory tree to watch.
	Dir string
	// Match selects files by their slash-separated path relative to Dir.
	// Nil matches every file.
	Match func(rel string) bool
	// PollInterval is the scan interval in polling mode.
	PollInterval time.Duration
}

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors a directory tree using fsnotify with a polling fallback.
type Watcher struct {
	dir   string
	match func(rel string) bool
	// events is buffered to 1 so back-to-back changes coalesce.
	events chan struct{}
	done   chan struct{}

	// mu guards fsw, which is nil in polling mode.
	mu  sync.Mutex
	fsw *fsnotify.Watcher

	once         sync.Once
	polling      atomic.Bool
	pollInterval time.Duration
}

// New starts watching opts.Dir. It falls back to polling if native
// notifications are unavailable for the directory.
func New(opts Options) (*Watcher, error) {
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", opts.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", opts.Dir)
	}

	w := &Watcher{
		dir:          opts.Dir,
		match:        opts.Match,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: opts.PollInterval,
	}
	if w.match == nil {
		w.match = func(string) bool { return true }
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.startPolling()
		return w, nil
	}
	if err := addTree(fsw, opts.Dir); err != nil {
		slog.Info("cannot watch directory, falling back to polling", "path", opts.Dir, "error", err)
		fsw.Close()
		w.startPolling()
		return w, nil
	}

	w.fsw = fsw
	go w.watch(fsw)
	return w, nil
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a value when a matching file is
// created, written, removed or renamed.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
			w.fsw = nil
		}
	})
	return err
}

// ///////////////////////////////////////////////
// Native Notifications
// ///////////////////////////////////////////////

// addTree adds root and every directory below it; fsnotify is not
// recursive.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}

// watch forwards matching fsnotify events. On a watcher error it closes the
// native watcher and falls back to polling.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(fsw, event.Name); err != nil {
						slog.Warn("cannot watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.matches(event.Name) {
				slog.Debug("watched file changed", "path", event.Name, "op", event.Op.String())
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			w.mu.Lock()
			if w.fsw == fsw {
				fsw.Close()
				w.fsw = nil
			}
			w.mu.Unlock()
			w.startPolling()
			return
		}
	}
}

// matches applies the filter to an absolute path inside the tree.
func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	return w.match(filepath.ToSlash(rel))
}

// ///////////////////////////////////////////////
// Polling
// ///////////////////////////////////////////////

// snapshot maps each matching file to its modification time.
type snapshot map[string]time.Time

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

// poll rescans the tree every interval and notifies when the set of
// matching files or any of their modification times changed.
func (w *Watcher) poll() {
	last := w.scan()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cur := w.scan()
			if changed(last, cur) {
				w.notify()
			}
			last = cur
		}
	}
}

// scan walks the tree and records every matching file.
func (w *Watcher) scan() snapshot {
	snap := snapshot{}
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.matches(path) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			snap[path] = info.ModTime()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("watch scan failed", "path", w.dir, "error", err)
	}
	return snap
}

// changed reports whether two snapshots differ.
func changed(a, b snapshot) bool {
	if len(a) != len(b) {
		return true
	}
	for path, mod := range a {
		if other, ok := b[path]; !ok || !other.Equal(mod) {
			return true
		}
	}
	return false
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive changes.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
