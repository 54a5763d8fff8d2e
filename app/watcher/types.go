package watcher

import (
	"path/filepath"
	"strings"

	"mentiond/app/webmention"
)

type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeEdited  ChangeType = "edited"
	ChangeDeleted ChangeType = "deleted"
)

// ContentChange is one normalized, debounced content-tree change handed
// to the watcher's callback. Text and Format are empty for deletions.
type ContentChange struct {
	Type   ChangeType
	Path   string
	Text   string
	Format webmention.TextFormat
}

// Op is a raw filesystem event type. Renames are modeled upstream as a
// delete of the old path plus a create of the new one.
type Op int

const (
	OpCreated Op = iota
	OpModified
	OpDeleted
)

// Event is a raw filesystem event as delivered by an event source.
type Event struct {
	Op   Op
	Path string
}

// eventSource abstracts the OS-level watch mechanism so the debounce
// state machine can be driven by synthetic events in tests.
type eventSource interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// formatFromPath classifies a file's text format from its extension.
// The second return is false for unrecognized extensions.
func formatFromPath(path string) (webmention.TextFormat, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return webmention.FormatHTML, true
	case ".md", ".markdown":
		return webmention.FormatMarkdown, true
	case ".txt", ".text":
		return webmention.FormatText, true
	}
	return "", false
}
