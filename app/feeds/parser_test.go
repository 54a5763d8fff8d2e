package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Friend's Blog</title>
	<link>https://friend.example</link>
	<description>Posts from a friend</description>
	<item>
		<title>First Post</title>
		<link>https://friend.example/first</link>
		<guid>https://friend.example/first</guid>
		<description>The first post</description>
		<pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
	</item>
	<item>
		<title>Second Post</title>
		<link>https://friend.example/second</link>
		<description>The second post</description>
	</item>
</channel>
</rss>`

func newFeedServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
}

func TestParser_Run(t *testing.T) {
	server := newFeedServer(t, nil)
	defer server.Close()

	p := NewParser(server.Client(), "test-agent", 5*time.Second, time.Hour)

	feed, err := p.Run(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if feed.Title != "Friend's Blog" {
		t.Errorf("Expected feed title, got %q", feed.Title)
	}
	if feed.Link != "https://friend.example" {
		t.Errorf("Expected feed link, got %q", feed.Link)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(feed.Items))
	}
	if feed.Items[0].GUID != "https://friend.example/first" {
		t.Errorf("Expected explicit GUID, got %q", feed.Items[0].GUID)
	}
	// Items without a GUID fall back to their link.
	if feed.Items[1].GUID != "https://friend.example/second" {
		t.Errorf("Expected link as GUID fallback, got %q", feed.Items[1].GUID)
	}
	if feed.Items[0].Published == nil {
		t.Error("Expected published time on first item")
	}
	if feed.LastFetched.IsZero() {
		t.Error("Expected LastFetched to be stamped")
	}
}

func TestParser_CachesWithinTTL(t *testing.T) {
	var fetches atomic.Int32
	server := newFeedServer(t, &fetches)
	defer server.Close()

	p := NewParser(server.Client(), "test-agent", 5*time.Second, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := p.Run(context.Background(), server.URL); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	if got := fetches.Load(); got != 1 {
		t.Errorf("Expected a single upstream fetch within TTL, got %d", got)
	}
}

func TestParser_RefetchesAfterExpiry(t *testing.T) {
	var fetches atomic.Int32
	server := newFeedServer(t, &fetches)
	defer server.Close()

	// A non-positive TTL keeps nothing.
	p := NewParser(server.Client(), "test-agent", 5*time.Second, time.Nanosecond)

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), server.URL); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	if got := fetches.Load(); got != 2 {
		t.Errorf("Expected refetch after expiry, got %d fetches", got)
	}
}

func TestParser_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := NewParser(server.Client(), "test-agent", 5*time.Second, time.Hour)

	if _, err := p.Run(context.Background(), server.URL); err == nil {
		t.Error("Expected error for 404 feed")
	}
}

func TestParser_InvalidFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer server.Close()

	p := NewParser(server.Client(), "test-agent", 5*time.Second, time.Hour)

	if _, err := p.Run(context.Background(), server.URL); err == nil {
		t.Error("Expected error for unparseable feed")
	}
}

func TestParser_RunAll(t *testing.T) {
	good := newFeedServer(t, nil)
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	p := NewParser(good.Client(), "test-agent", 5*time.Second, time.Hour)

	results := p.RunAll(context.Background(), []string{good.URL, bad.URL})

	// The failing feed is skipped, not fatal.
	if len(results) != 1 {
		t.Fatalf("Expected 1 successful feed, got %d", len(results))
	}
	if _, ok := results[good.URL]; !ok {
		t.Errorf("Expected result for %s", good.URL)
	}
}
