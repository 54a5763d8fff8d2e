package webmention

import "errors"

// ErrNotFound is returned by Storage implementations when no stored
// mention exists for the given identity key.
var ErrNotFound = errors.New("webmention not found")

// Storage persists webmentions keyed by (source, target, direction).
// The file-backed implementation lives in app/storage; alternative
// backends only need to satisfy this contract.
//
// Store merges the given mention with any record already stored under
// the same key, preserving the original CreatedAt, and returns the
// storage location. Delete removes the record (hard delete) or flips its
// status to deleted (soft delete), returning the former location, or
// ErrNotFound if nothing was stored. Retrieve returns confirmed records
// for a resource, newest first.
type Storage interface {
	Store(mention *Webmention) (string, error)
	Delete(source, target string, direction Direction) (string, error)
	Retrieve(resource string, direction Direction) ([]*Webmention, error)
	MarkSent(source, target string) error
}
