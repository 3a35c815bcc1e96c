// Package watch turns file system changes under a project root into
// incremental build events for the index.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/dshills/refindex/internal/indexer"
	"github.com/dshills/refindex/pkg/logger"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero
const DefaultDebounce = 200 * time.Millisecond

// Updater applies one batch of build events. rebuild.Runner implements it.
type Updater interface {
	Update(ctx context.Context, events ...indexer.Event) (*indexer.Statistics, error)
}

// Options configure a Watcher
type Options struct {
	Root string
	// Keep maps a slash-separated path relative to Root to the path it is
	// indexed under, or rejects it
	Keep     func(rel string) (string, bool)
	Exclude  []string
	Debounce time.Duration
	Logger   *slog.Logger
}

// change is the last thing seen for a path within one debounce window
type change uint8

const (
	changeWrite change = iota + 1
	changeCreate
	changeRemove
)

// Watcher collects file changes and hands them to an Updater in batches
// once the tree has been quiet for the debounce period
type Watcher struct {
	fsw     *fsnotify.Watcher
	opts    Options
	updater Updater
	log     *slog.Logger
	pending map[string]change

	readDir  func(dir string) ([]os.DirEntry, error)
	readFile func(path string) ([]byte, error)
}

// New creates a watcher for opts.Root
func New(opts Options, updater Updater) (*Watcher, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	if opts.Keep == nil {
		return nil, fmt.Errorf("watch keep function is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}
	opts.Root = root
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		opts:     opts,
		updater:  updater,
		log:      log,
		pending:  make(map[string]change),
		readDir:  os.ReadDir,
		readFile: os.ReadFile,
	}, nil
}

// Run watches until ctx is done. Changes still pending at that point are
// dropped; the next start of the index reconciles through a rebuild or
// fresh events.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	if err := w.addWatches(w.opts.Root); err != nil {
		return err
	}
	w.log.Info("watching", "root", w.opts.Root, "debounce", w.opts.Debounce)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				fire = time.After(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.flush(ctx)
		}
	}
}

// addWatches adds a watch for every directory under dir that is not
// excluded
func (w *Watcher) addWatches(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root && w.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("failed to add watch", "dir", path, "error", err)
		}
		return nil
	})
}

// handleEvent records one fsnotify event and reports whether anything is
// now pending
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	path := event.Name

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.ignoredDir(path) {
				return false
			}
			// files may land before the watch does
			if err := w.addWatches(path); err != nil {
				w.log.Warn("failed to watch new directory", "dir", path, "error", err)
			}
			return w.addTree(path)
		}
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return w.record(path, changeRemove)
	case event.Op&fsnotify.Create != 0:
		return w.record(path, changeCreate)
	case event.Op&fsnotify.Write != 0:
		return w.record(path, changeWrite)
	}
	return false
}

// addTree records every file of a newly created directory
func (w *Watcher) addTree(dir string) bool {
	added := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.ignoredDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.record(path, changeCreate) {
			added = true
		}
		return nil
	})
	return added
}

// record notes a change for path if the index cares about the file
func (w *Watcher) record(path string, c change) bool {
	if _, ok := w.indexedPath(path); !ok {
		return false
	}
	// a create after a remove in the same window is still a create
	if prev, ok := w.pending[path]; ok && prev == changeCreate && c == changeWrite {
		c = changeCreate
	}
	w.pending[path] = c
	return true
}

// indexedPath maps an absolute path to its indexed path
func (w *Watcher) indexedPath(path string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.excluded(rel) {
		return "", false
	}
	return w.opts.Keep(rel)
}

func (w *Watcher) ignoredDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return w.excluded(rel) || w.excluded(rel+"/")
}

func (w *Watcher) excluded(rel string) bool {
	for _, pattern := range w.opts.Exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// flush applies the pending changes as one update
func (w *Watcher) flush(ctx context.Context) {
	events := w.events()
	w.pending = make(map[string]change)
	if len(events) == 0 {
		return
	}

	stats, err := w.updater.Update(ctx, events...)
	if err != nil {
		w.log.Error("update failed", "events", len(events), "error", err)
		return
	}
	w.log.Info("index updated",
		"events", len(events),
		"added", stats.FilesAdded,
		"changed", stats.FilesChanged,
		"deleted", stats.FilesDeleted,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed)
}

// events converts the pending changes into build events, sorted by path.
// The file system decides: a path that is gone is deleted whatever was
// last seen for it, and a path that exists is read now. Existence is
// decided by the exact directory entry name, so on a case-insensitive
// file system the old spelling of a case-only rename is deleted.
func (w *Watcher) events() []indexer.Event {
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	listings := make(map[string]map[string]bool)
	events := make([]indexer.Event, 0, len(paths))
	for _, path := range paths {
		indexed, ok := w.indexedPath(path)
		if !ok {
			continue
		}
		present, err := w.present(listings, path)
		if err != nil {
			w.log.Warn("failed to list directory", "path", path, "error", err)
			continue
		}
		if !present {
			events = append(events, indexer.Deleted(indexed))
			continue
		}
		content, err := w.readFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			events = append(events, indexer.Deleted(indexed))
		case err != nil:
			w.log.Warn("failed to read changed file", "path", path, "error", err)
		case w.pending[path] == changeCreate:
			events = append(events, indexer.Added(indexed, content))
		default:
			events = append(events, indexer.Changed(indexed, content))
		}
	}
	return events
}

// present reports whether the parent directory of path has an entry
// spelled exactly like its base name. Listings are cached per flush.
func (w *Watcher) present(listings map[string]map[string]bool, path string) (bool, error) {
	dir, base := filepath.Dir(path), filepath.Base(path)
	names, ok := listings[dir]
	if !ok {
		entries, err := w.readDir(dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		names = make(map[string]bool, len(entries))
		for _, e := range entries {
			names[e.Name()] = true
		}
		listings[dir] = names
	}
	return names[base], nil
}
