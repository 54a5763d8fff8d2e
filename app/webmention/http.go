package webmention

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultUserAgent   = "mentiond/1.0"

	// maxFetchBytes caps how much of a remote page is read. Verification
	// and metadata extraction only need the document itself, never
	// arbitrarily large payloads.
	maxFetchBytes = 5 << 20
)

// fetchURL performs a GET with a bounded timeout and a descriptive
// user-agent, returning the response (for headers and the post-redirect
// URL) together with the fully read body. Network-level failures come
// back as *FetchError.
func fetchURL(ctx context.Context, client *http.Client, rawURL, userAgent string, timeout time.Duration) (*http.Response, []byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, nil, &FetchError{URL: rawURL, Err: err}
	}

	return resp, body, nil
}
