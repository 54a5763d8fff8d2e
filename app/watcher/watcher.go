package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultDebounce        = 2 * time.Second
	DefaultProcessInterval = 2 * time.Second

	pollInterval = 500 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

var defaultExtensions = []string{".md", ".markdown", ".txt", ".text", ".html", ".htm"}

// Config wires a Watcher. FileURL maps a content file path to its public
// URL so the watcher need not know the site's URL structure; OnChange
// receives the mapped URL together with the normalized change.
type Config struct {
	Root            string
	FileURL         func(path string) string
	OnChange        func(sourceURL string, change ContentChange)
	Extensions      []string
	Debounce        time.Duration
	ProcessInterval time.Duration
}

// Watcher observes a content tree for changes to files with the
// configured extensions and delivers a coalesced, debounced stream of
// ContentChange events to a single callback. A path is dispatched only
// once it has been quiet for the debounce window, and batches are never
// dispatched more often than the process interval, which bounds how
// often downstream processing runs under a burst of saves.
type Watcher struct {
	root            string
	fileURL         func(string) string
	onChange        func(string, ContentChange)
	extensions      map[string]struct{}
	debounce        time.Duration
	processInterval time.Duration

	// newSource is swapped for a synthetic source in tests.
	newSource func(root string) (eventSource, error)

	mu      sync.Mutex
	running bool
	source  eventSource
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce state, owned exclusively by the consumer loop.
	pending   map[string]pendingEvent
	lastFlush time.Time
}

type pendingEvent struct {
	op Op
	at time.Time
}

func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watcher root directory is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watcher change callback is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watcher root: %w", err)
	}

	if cfg.FileURL == nil {
		cfg.FileURL = func(path string) string { return path }
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaultExtensions
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = DefaultProcessInterval
	}

	extensions := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	return &Watcher{
		root:            root,
		fileURL:         cfg.FileURL,
		onChange:        cfg.OnChange,
		extensions:      extensions,
		debounce:        cfg.Debounce,
		processInterval: cfg.ProcessInterval,
		newSource:       newFsnotifySource,
		pending:         make(map[string]pendingEvent),
	}, nil
}

// Start launches the OS watch and the consumer loop. Calling Start on a
// running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if info, err := os.Stat(w.root); err != nil || !info.IsDir() {
		return fmt.Errorf("watcher root is not a directory: %s", w.root)
	}

	source, err := w.newSource(w.root)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.source = source
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(ctx, source)

	slog.Info("Content watcher started", "root", w.root)
	return nil
}

// Stop terminates the consumer loop and the underlying OS watch. It is
// idempotent and joins the loop with a bounded timeout.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.cancel()
	if err := w.source.Close(); err != nil {
		slog.Warn("Failed to close filesystem watch", "error", err)
	}

	select {
	case <-w.done:
	case <-time.After(stopTimeout):
		slog.Warn("Content watcher loop did not stop in time")
	}

	w.running = false
	w.source = nil

	slog.Info("Content watcher stopped")
}

func (w *Watcher) run(ctx context.Context, source eventSource) {
	defer close(w.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-source.Events():
			if !ok {
				return
			}
			w.record(ev)
			w.flush()
		case err := <-source.Errors():
			if err != nil {
				slog.Warn("Filesystem watch error", "error", err)
			}
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) record(ev Event) {
	path, err := filepath.Abs(ev.Path)
	if err != nil {
		return
	}
	if !w.isCandidate(path) {
		return
	}
	w.pending[path] = pendingEvent{op: ev.Op, at: time.Now()}
}

func (w *Watcher) isCandidate(path string) bool {
	if path != w.root && !strings.HasPrefix(path, w.root+string(os.PathSeparator)) {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// flush dispatches every pending path that has been quiet for the
// debounce window, provided the minimum interval since the last batch
// has elapsed.
func (w *Watcher) flush() {
	if len(w.pending) == 0 {
		return
	}

	now := time.Now()
	if now.Sub(w.lastFlush) < w.processInterval {
		return
	}

	var ready []string
	for path, ev := range w.pending {
		if now.Sub(ev.at) >= w.debounce {
			ready = append(ready, path)
		}
	}
	if len(ready) == 0 {
		return
	}

	w.lastFlush = now
	for _, path := range ready {
		ev := w.pending[path]
		delete(w.pending, path)
		w.dispatch(path, ev.op)
	}
}

func (w *Watcher) dispatch(path string, op Op) {
	change, ok := w.buildChange(path, op)
	if !ok {
		return
	}
	w.onChange(w.fileURL(path), change)
}

func (w *Watcher) buildChange(path string, op Op) (ContentChange, bool) {
	info, err := os.Stat(path)
	if op == OpDeleted || err != nil || info.IsDir() {
		return ContentChange{Type: ChangeDeleted, Path: path}, true
	}

	format, ok := formatFromPath(path)
	if !ok {
		return ContentChange{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read changed content file", "path", path, "error", err)
		return ContentChange{}, false
	}

	changeType := ChangeEdited
	if op == OpCreated {
		changeType = ChangeAdded
	}

	return ContentChange{Type: changeType, Path: path, Text: string(data), Format: format}, true
}
