// Package watcher feeds files dropped into configured directories to the
// ingestion pipeline, and removes their records when the files disappear.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Rapid write bursts (editors, copies in progress) collapse into one ingest
// per file after this quiet period.
const defaultDebounce = 400 * time.Millisecond

// Options configure a Watcher.
type Options struct {
	// Roots are the directories to watch. Missing roots are created.
	Roots []string
	// Extensions filter which files are picked up; empty means all.
	Extensions []string
	// Recursive also watches subdirectories, including ones created later.
	Recursive bool
	// Debounce overrides the default quiet period.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher turns filesystem events under its roots into OnFile/OnRemove
// callbacks. Callbacks run on the watcher goroutine (or a debounce timer
// goroutine) and must tolerate being called for the same path twice.
type Watcher struct {
	opts     Options
	onFile   func(path string)
	onRemove func(path string)
	log      *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher. onFile is invoked for created or modified files
// matching the extension filter; onRemove for deleted ones.
func New(opts Options, onFile, onRemove func(path string)) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Watcher{
		opts:     opts,
		onFile:   onFile,
		onRemove: onRemove,
		log:      opts.Logger,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Start registers the roots and begins dispatching events until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	for _, root := range w.opts.Roots {
		if err := w.watchTree(root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.log.Info("watching directories",
		zap.Strings("roots", w.opts.Roots),
		zap.Bool("recursive", w.opts.Recursive))

	go w.loop(ctx, fsw)
	return nil
}

// Sync invokes onFile for every matching file already present under the
// roots. Called once after Start so pre-existing files are not missed.
func (w *Watcher) Sync() {
	for _, root := range w.opts.Roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !w.opts.Recursive && filepath.Dir(path) != filepath.Clean(root) {
				return nil
			}
			if w.matches(path) {
				w.onFile(path)
			}
			return nil
		})
	}
}

// Stop cancels pending debounce timers and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.opts.Recursive {
				// A directory moved in wholesale never fires per-file
				// events, so walk it once.
				if err := w.watchTree(ev.Name); err != nil {
					w.log.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
				}
				w.syncDir(ev.Name)
			}
			return
		}
		if w.matches(ev.Name) {
			w.debounce(ev.Name)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		if w.matches(ev.Name) {
			w.onRemove(ev.Name)
		}
	}
}

// watchTree adds root (and its subdirectories when recursive) to the
// fsnotify watch list, creating root if absent.
func (w *Watcher) watchTree(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	if !w.opts.Recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) syncDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.matches(path) {
			w.debounce(path)
		}
		return nil
	})
}

func (w *Watcher) matches(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.opts.Extensions {
		if ext == strings.ToLower(e) || ext == "."+strings.TrimPrefix(strings.ToLower(e), ".") {
			return true
		}
	}
	return false
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.onFile(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}
