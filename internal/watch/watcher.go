// SPDX-License-Identifier: MPL-2.0

// Package watch reports debounced batches of changes to module files under a
// set of search directories.
//
// Events within the debounce window are coalesced so the callback fires once
// with every changed path. Directories created after startup are watched as
// they appear.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/invowk/modlink/internal/logging"
)

// defaultDebounce lets an editor or compiler finish writing (write, then
// rename a temp file) before the batch is reported.
const defaultDebounce = 300 * time.Millisecond

var (
	// DefaultPatterns select module files, module sets and composition
	// sources.
	DefaultPatterns = []string{"**/*.mlm", "**/*.mls", "**/*.mlc"}

	// defaultIgnores are always excluded.
	defaultIgnores = []string{
		"**/.git/**",
		"**/.*",
		"**/*.swp",
		"**/*~",
		"**/*.mlcache",
	}

	// ErrInvalidConfig is wrapped by every Config validation failure.
	ErrInvalidConfig = errors.New("invalid watch configuration")
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Dirs are the roots to watch recursively. Roots that do not exist
		// are skipped.
		Dirs []string

		// Patterns are doublestar globs, relative to the root containing the
		// path, selecting which files are reported. Empty means
		// DefaultPatterns.
		Patterns []string

		// Ignore are globs merged with the built-in ignores.
		Ignore []string

		// Debounce is the quiet period after the last event before OnChange
		// fires. Zero or negative means the default.
		Debounce time.Duration

		// OnChange receives the changed absolute paths, sorted. An empty
		// list means the kernel dropped events and every root must be
		// rescanned. A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		Logger *log.Logger
	}

	// InvalidConfigError lists every problem found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Watcher monitors Config.Dirs. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []string
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("%s: %d problem(s): %v", ErrInvalidConfig, len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the directories and glob patterns.
func (c Config) Validate() error {
	var errs []error
	for i, dir := range c.Dirs {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, fmt.Errorf("dirs[%d]: empty directory", i))
		}
	}
	errs = append(errs, validatePatterns(c.Patterns, "patterns")...)
	errs = append(errs, validatePatterns(c.Ignore, "ignore")...)
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func validatePatterns(patterns []string, field string) []error {
	var errs []error
	for i, pat := range patterns {
		if pat == "" {
			errs = append(errs, fmt.Errorf("%s[%d]: empty pattern", field, i))
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			errs = append(errs, fmt.Errorf("%s[%d]: invalid pattern %q", field, i, pat))
		}
	}
	return errs
}

// New validates cfg and registers every non-ignored directory under the
// existing roots.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:      cfg,
		patterns: cfg.Patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cfg.Debounce,
		logger:   logging.OrDiscard(cfg.Logger),
	}
	if len(w.patterns) == 0 {
		w.patterns = DefaultPatterns
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}

	for _, dir := range cfg.Dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %s: %w", dir, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			w.logger.Debug("skipping missing watch root", "dir", abs)
			continue
		}
		w.roots = append(w.roots, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the directories actually watched.
func (w *Watcher) Roots() []string {
	return slices.Clone(w.roots)
}

// Run blocks until ctx is canceled, dispatching debounced batches. It returns
// nil on cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer      *time.Timer
		running    atomic.Bool
		overflowed bool
	)

	// fire runs on the timer goroutine. A batch that arrives while the
	// previous callback is still running is retried after another debounce
	// period instead of running concurrently.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 && !overflowed {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		if overflowed {
			changed = []string{}
			overflowed = false
		}
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("change handler failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("closing fsnotify watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			if !w.selected(evt.Name) {
				continue
			}

			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed")
			}
			switch {
			case errors.Is(err, fsnotify.ErrEventOverflow):
				w.logger.Warn("events dropped, rescanning every root", "roots", len(w.roots))
				mu.Lock()
				overflowed = true
				if timer == nil {
					timer = time.AfterFunc(w.debounce, fire)
				} else {
					timer.Reset(w.debounce)
				}
				mu.Unlock()
			case resourceExhausted(err):
				return fmt.Errorf("watch: out of watch resources (raise the OS limit or watch fewer search paths): %w", err)
			default:
				w.logger.Warn("fsnotify error", "err", err)
			}
		}
	}
}

// addTree registers root and every non-ignored directory below it.
// Unreadable directories are skipped.
func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("skipping inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(root, path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", root, err)
	}
	return nil
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	root, ok := w.rootOf(path)
	if !ok || w.ignored(root, path) {
		return
	}
	if err := w.addTree(path); err != nil {
		w.logger.Warn("watching new directory", "path", path, "err", err)
	}
}

// rootOf returns the watched root containing path. Nested roots resolve to
// the deepest one.
func (w *Watcher) rootOf(path string) (string, bool) {
	best := ""
	for _, root := range w.roots {
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > len(best) {
			best = root
		}
	}
	return best, best != ""
}

func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	return matchAny(w.ignores, filepath.ToSlash(rel))
}

// selected reports whether path is a file event that should be reported.
func (w *Watcher) selected(path string) bool {
	root, ok := w.rootOf(path)
	if !ok {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return !matchAny(w.ignores, rel) && matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
