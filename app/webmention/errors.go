package webmention

import "fmt"

// RequestError rejects a webmention request that cannot be accepted:
// missing fields, target domain mismatch, or a claim the source page
// does not back up. Never persisted.
type RequestError struct {
	Source  string
	Target  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid webmention from %q to %q: %s", e.Source, e.Target, e.Message)
}

// GoneError signals that the source resource no longer exists (HTTP 404
// or 410). Callers treat it as a retraction, not a failure.
type GoneError struct {
	Source string
	Target string
}

func (e *GoneError) Error() string {
	return fmt.Sprintf("webmention source %q no longer exists (target %q)", e.Source, e.Target)
}

// FetchError wraps a network-level failure while fetching a URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %q: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
