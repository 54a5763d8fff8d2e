package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mentiond/app/webmention"
)

// fakeSource drives the watcher loop with synthetic events.
type fakeSource struct {
	events chan Event
	errors chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan Event, 16),
		errors: make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) Events() <-chan Event { return s.events }
func (s *fakeSource) Errors() <-chan error { return s.errors }
func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recordedChange struct {
	URL    string
	Change ContentChange
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (r *changeRecorder) record(url string, change ContentChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, recordedChange{URL: url, Change: change})
}

func (r *changeRecorder) snapshot() []recordedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedChange(nil), r.changes...)
}

func (r *changeRecorder) waitFor(t *testing.T, count int, timeout time.Duration) []recordedChange {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if changes := r.snapshot(); len(changes) >= count {
			return changes
		}
		time.Sleep(20 * time.Millisecond)
	}
	changes := r.snapshot()
	t.Fatalf("Timed out waiting for %d changes, got %d", count, len(changes))
	return changes
}

func newTestWatcher(t *testing.T, root string, recorder *changeRecorder) (*Watcher, *fakeSource) {
	t.Helper()

	source := newFakeSource()
	w, err := New(Config{
		Root:            root,
		FileURL:         func(path string) string { return "https://blog.example/" + filepath.Base(path) },
		OnChange:        recorder.record,
		Debounce:        50 * time.Millisecond,
		ProcessInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	w.newSource = func(string) (eventSource, error) { return source, nil }

	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	t.Cleanup(w.Stop)

	return w, source
}

func TestWatcher_DispatchesCreatedFile(t *testing.T) {
	root := t.TempDir()
	recorder := &changeRecorder{}
	_, source := newTestWatcher(t, root, recorder)

	path := filepath.Join(root, "my-post.md")
	if err := os.WriteFile(path, []byte("Hello https://a.example/ref"), 0o644); err != nil {
		t.Fatalf("Failed to write content file: %v", err)
	}

	source.events <- Event{Op: OpCreated, Path: path}

	changes := recorder.waitFor(t, 1, 3*time.Second)
	if changes[0].Change.Type != ChangeAdded {
		t.Errorf("Expected added change, got %s", changes[0].Change.Type)
	}
	if changes[0].Change.Format != webmention.FormatMarkdown {
		t.Errorf("Expected markdown format, got %s", changes[0].Change.Format)
	}
	if changes[0].Change.Text != "Hello https://a.example/ref" {
		t.Errorf("Expected file contents in change, got %q", changes[0].Change.Text)
	}
	if changes[0].URL != "https://blog.example/my-post.md" {
		t.Errorf("Expected mapped URL, got %s", changes[0].URL)
	}
}

func TestWatcher_CoalescesRapidEdits(t *testing.T) {
	root := t.TempDir()
	recorder := &changeRecorder{}
	_, source := newTestWatcher(t, root, recorder)

	path := filepath.Join(root, "busy-post.md")
	if err := os.WriteFile(path, []byte("final contents"), 0o644); err != nil {
		t.Fatalf("Failed to write content file: %v", err)
	}

	// A burst of writes to one file collapses into a single dispatch.
	for i := 0; i < 5; i++ {
		source.events <- Event{Op: OpModified, Path: path}
		time.Sleep(5 * time.Millisecond)
	}

	changes := recorder.waitFor(t, 1, 3*time.Second)

	// Allow a full debounce window to pass and confirm no extra
	// dispatches trickle out.
	time.Sleep(200 * time.Millisecond)
	changes = recorder.snapshot()
	if len(changes) != 1 {
		t.Fatalf("Expected a single coalesced change, got %d", len(changes))
	}
	if changes[0].Change.Type != ChangeEdited {
		t.Errorf("Expected edited change, got %s", changes[0].Change.Type)
	}
}

func TestWatcher_DeletedFile(t *testing.T) {
	root := t.TempDir()
	recorder := &changeRecorder{}
	_, source := newTestWatcher(t, root, recorder)

	path := filepath.Join(root, "removed-post.md")
	source.events <- Event{Op: OpDeleted, Path: path}

	changes := recorder.waitFor(t, 1, 3*time.Second)
	if changes[0].Change.Type != ChangeDeleted {
		t.Errorf("Expected deleted change, got %s", changes[0].Change.Type)
	}
	if changes[0].Change.Text != "" {
		t.Errorf("Expected no text for deletion, got %q", changes[0].Change.Text)
	}
}

func TestWatcher_IgnoresUnknownExtensions(t *testing.T) {
	root := t.TempDir()
	recorder := &changeRecorder{}
	_, source := newTestWatcher(t, root, recorder)

	ignored := filepath.Join(root, "image.png")
	watched := filepath.Join(root, "post.md")
	if err := os.WriteFile(watched, []byte("text"), 0o644); err != nil {
		t.Fatalf("Failed to write content file: %v", err)
	}

	source.events <- Event{Op: OpCreated, Path: ignored}
	source.events <- Event{Op: OpCreated, Path: watched}

	changes := recorder.waitFor(t, 1, 3*time.Second)
	time.Sleep(200 * time.Millisecond)
	changes = recorder.snapshot()

	if len(changes) != 1 {
		t.Fatalf("Expected only the markdown file dispatched, got %d changes", len(changes))
	}
	if changes[0].Change.Path != watched {
		t.Errorf("Expected %s dispatched, got %s", watched, changes[0].Change.Path)
	}
}

func TestWatcher_IgnoresPathsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	recorder := &changeRecorder{}
	_, source := newTestWatcher(t, root, recorder)

	source.events <- Event{Op: OpCreated, Path: filepath.Join(outside, "stray.md")}

	time.Sleep(700 * time.Millisecond)
	if changes := recorder.snapshot(); len(changes) != 0 {
		t.Errorf("Expected no dispatch for path outside root, got %d", len(changes))
	}
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	recorder := &changeRecorder{}
	w, _ := newTestWatcher(t, t.TempDir(), recorder)

	if err := w.Start(); err != nil {
		t.Errorf("Second Start should be a no-op, got %v", err)
	}

	w.Stop()
	w.Stop()
}

func TestWatcher_RequiresRootAndCallback(t *testing.T) {
	if _, err := New(Config{OnChange: func(string, ContentChange) {}}); err == nil {
		t.Error("Expected error for missing root")
	}
	if _, err := New(Config{Root: t.TempDir()}); err == nil {
		t.Error("Expected error for missing callback")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path   string
		format webmention.TextFormat
		ok     bool
	}{
		{"post.md", webmention.FormatMarkdown, true},
		{"post.HTML", webmention.FormatHTML, true},
		{"notes.txt", webmention.FormatText, true},
		{"image.png", "", false},
		{"no-extension", "", false},
	}

	for _, test := range tests {
		format, ok := formatFromPath(test.path)
		if ok != test.ok || format != test.format {
			t.Errorf("formatFromPath(%q): expected (%s, %v), got (%s, %v)",
				test.path, test.format, test.ok, format, ok)
		}
	}
}
