package watcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource adapts fsnotify to the eventSource contract: it
// watches the root tree recursively, adds newly created directories to
// the watch, and translates rename/remove into delete events.
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
}

func newFsnotifySource(root string) (eventSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	s := &fsnotifySource{
		watcher: w,
		events:  make(chan Event, 100),
		errors:  make(chan error, 1),
	}
	go s.translate()

	return s, nil
}

func (s *fsnotifySource) translate() {
	defer close(s.events)

	for ev := range s.watcher.Events {
		switch {
		case ev.Has(fsnotify.Create):
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				s.watcher.Add(ev.Name)
				continue
			}
			s.events <- Event{Op: OpCreated, Path: ev.Name}
		case ev.Has(fsnotify.Write):
			s.events <- Event{Op: OpModified, Path: ev.Name}
		case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
			// fsnotify reports only the old path of a rename; the new
			// path arrives as a separate create event.
			s.events <- Event{Op: OpDeleted, Path: ev.Name}
		}
	}
}

func (s *fsnotifySource) Events() <-chan Event {
	return s.events
}

func (s *fsnotifySource) Errors() <-chan error {
	return s.watcher.Errors
}

func (s *fsnotifySource) Close() error {
	return s.watcher.Close()
}
