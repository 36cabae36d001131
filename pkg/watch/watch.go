// Package watch reports settled file changes below a project root.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
)

// DefaultPatterns are matched against every path segment. Matching files and directories are
// never reported. Hidden entries (starting with a dot) are always ignored.
var DefaultPatterns = []string{"__pycache__", "*.pyc", "*.egg-info", "build"}

// ChangeFunc is called with the slash separated paths (relative to the root) that changed.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher watches a directory tree.
type Watcher struct {
	root     string
	exclude  []string
	patterns []string
	watcher  *fsnotify.Watcher
	pending  map[string]time.Time

	// Debounce is the quiet period after the last event before ChangeFunc is called.
	Debounce time.Duration
}

// New starts watching root and all of its sub directories. exclude lists paths relative to root
// that are skipped entirely (the virtual environment, build output, ...).
func New(root string, exclude []string) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve watch root")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create watcher")
	}

	w := &Watcher{
		root:     root,
		patterns: DefaultPatterns,
		watcher:  watcher,
		pending:  make(map[string]time.Time),
		Debounce: 300 * time.Millisecond,
	}
	for _, item := range exclude {
		item = path.Clean(filepath.ToSlash(item))
		if item != "." {
			w.exclude = append(w.exclude, item)
		}
	}

	err = w.addTree(root)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Ignored reports whether changes to name (absolute or relative to the root) are dropped.
func (w *Watcher) Ignored(name string) bool {
	if !filepath.IsAbs(name) {
		name = filepath.Join(w.root, name)
	}

	rel, ok := w.relative(name)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}

	for _, item := range w.exclude {
		if rel == item || strings.HasPrefix(rel, item+"/") {
			return true
		}
	}

	for _, segment := range strings.Split(rel, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}

		for _, pattern := range w.patterns {
			if matched, _ := path.Match(pattern, segment); matched {
				return true
			}
		}
	}

	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if w.Ignored(name) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(name); err != nil {
			return eris.Wrapf(err, "failed to watch %s", name)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) error {
	if event.Op == fsnotify.Chmod || w.Ignored(event.Name) {
		return nil
	}

	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				return err
			}
		}
	}

	rel, ok := w.relative(event.Name)
	if ok {
		w.pending[rel] = time.Now()
	}
	return nil
}

// settled returns the pending changes once no new event arrived for the debounce period.
func (w *Watcher) settled(now time.Time) []string {
	if len(w.pending) == 0 {
		return nil
	}

	changed := make([]string, 0, len(w.pending))
	for name, seen := range w.pending {
		if now.Sub(seen) < w.Debounce {
			return nil
		}
		changed = append(changed, name)
	}

	w.pending = make(map[string]time.Time)
	sort.Strings(changed)
	return changed
}

// Run blocks until ctx is cancelled and calls onChange for every settled batch of changes.
// onChange runs on the calling goroutine; events arriving meanwhile are batched for the next call.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if err := w.handleEvent(event); err != nil {
				return err
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return eris.Wrap(err, "watch failed")
		case now := <-ticker.C:
			if changed := w.settled(now); changed != nil {
				onChange(ctx, changed)
			}
		}
	}
}
