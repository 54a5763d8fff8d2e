package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mentiond/app/webmention"
)

var _ webmention.Storage = (*FileStorage)(nil)

// FileStorage stores each webmention as a Markdown file under
// <root>/{incoming|outgoing}/<slug>/webmention-<domain>-<hash>.md.
// Writes are crash-safe (temp file plus atomic rename) and serialized
// per target path; distinct paths may be written concurrently.
type FileStorage struct {
	root       string
	hardDelete bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewFileStorage(root string, hardDelete bool) (*FileStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mentions directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mentions directory: %w", err)
	}
	return &FileStorage{
		root:       abs,
		hardDelete: hardDelete,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStorage) Store(m *webmention.Webmention) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	path := s.mentionPath(m.Source, m.Target, m.Direction)
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	// Merge with any existing record at the same key: the original
	// CreatedAt is never regressed by a later store.
	if data, err := os.ReadFile(path); err == nil {
		if existing, perr := parseMention(data); perr == nil && !existing.CreatedAt.IsZero() {
			m.CreatedAt = existing.CreatedAt
		}
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		m.UpdatedAt = m.CreatedAt
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create mention directory: %w", err)
	}
	if err := atomicWrite(path, []byte(formatMention(m))); err != nil {
		return "", err
	}

	return path, nil
}

func (s *FileStorage) Delete(source, target string, direction webmention.Direction) (string, error) {
	path := s.mentionPath(source, target, direction)
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if s.hardDelete {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return "", webmention.ErrNotFound
			}
			return "", fmt.Errorf("failed to delete mention file: %w", err)
		}
		return path, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", webmention.ErrNotFound
		}
		return "", fmt.Errorf("failed to read mention file: %w", err)
	}

	m, err := parseMention(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse mention file %s: %w", path, err)
	}

	// Soft delete preserves all fields so restoration stays possible.
	m.Source = source
	m.Target = target
	m.Direction = direction
	m.Status = webmention.StatusDeleted
	m.UpdatedAt = time.Now().UTC()

	if err := atomicWrite(path, []byte(formatMention(m))); err != nil {
		return "", err
	}

	return path, nil
}

func (s *FileStorage) Retrieve(resource string, direction webmention.Direction) ([]*webmention.Webmention, error) {
	dir := filepath.Join(s.root, string(direction), resourceSlug(resource))

	files, err := filepath.Glob(filepath.Join(dir, "webmention-*.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to list mention files: %w", err)
	}

	mentions := make([]*webmention.Webmention, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			slog.Warn("Failed to read mention file", "file", file, "error", err)
			continue
		}
		m, err := parseMention(data)
		if err != nil {
			slog.Warn("Skipping malformed mention file", "file", file, "error", err)
			continue
		}
		if m.Status != webmention.StatusConfirmed {
			continue
		}
		mentions = append(mentions, m)
	}

	sort.Slice(mentions, func(i, j int) bool {
		return mentions[i].SortKey().After(mentions[j].SortKey())
	})

	return mentions, nil
}

func (s *FileStorage) MarkSent(source, target string) error {
	_, err := s.Store(&webmention.Webmention{
		Source:    source,
		Target:    target,
		Direction: webmention.DirectionOutgoing,
		Status:    webmention.StatusConfirmed,
	})
	return err
}

// mentionPath maps the identity key to a file path. The slug directory
// comes from the owning URL (target for incoming, source for outgoing),
// the filename from the counterpart URL, so independent source/target
// pairs never collide.
func (s *FileStorage) mentionPath(source, target string, direction webmention.Direction) string {
	owning, counterpart := target, source
	if direction == webmention.DirectionOutgoing {
		owning, counterpart = source, target
	}
	return filepath.Join(s.root, string(direction), resourceSlug(owning), mentionFilename(counterpart))
}

func (s *FileStorage) pathLock(path string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

// atomicWrite writes to a temporary sibling and renames it into place,
// so no reader ever observes a partially written file. On failure the
// temporary file is removed and the original is untouched.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write mention file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace mention file: %w", err)
	}
	return nil
}
