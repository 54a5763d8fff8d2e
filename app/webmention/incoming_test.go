package webmention

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestIncomingProcessor_StoresVerifiedMention(t *testing.T) {
	target := "https://blog.example/article/my-post"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
			<div class="h-entry">
				<h1 class="p-name">A thoughtful reply</h1>
				<div class="p-author h-card">
					<span class="p-name">Jane Doe</span>
					<a class="u-url" href="https://jane.example">jane</a>
				</div>
				<time class="dt-published" datetime="2025-06-01T12:00:00Z">June 1</time>
				<div class="e-content">I agree with <a class="u-in-reply-to" href="%s">this post</a> completely.</div>
			</div>
		</body></html>`, target)
	}))
	defer source.Close()

	storage := newMemoryStorage()
	p := NewIncomingProcessor(storage, source.Client(), IncomingOptions{BaseURL: "https://blog.example"})

	location, err := p.Run(context.Background(), source.URL+"/reply", target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if location == "" {
		t.Fatal("Expected non-empty storage location")
	}

	stored, err := storage.Retrieve(target, DirectionIncoming)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Expected 1 stored mention, got %d (err %v)", len(stored), err)
	}

	m := stored[0]
	if m.Status != StatusConfirmed {
		t.Errorf("Expected confirmed status, got %s", m.Status)
	}
	if m.Title != "A thoughtful reply" {
		t.Errorf("Expected h-entry name as title, got %q", m.Title)
	}
	if m.AuthorName != "Jane Doe" {
		t.Errorf("Expected author from h-card, got %q", m.AuthorName)
	}
	if m.MentionType != TypeReply {
		t.Errorf("Expected reply type from u-in-reply-to, got %s", m.MentionType)
	}
	if m.Published == nil {
		t.Error("Expected published time from dt-published")
	}
	if m.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be stamped")
	}
}

func TestIncomingProcessor_TargetNotInSource(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>nothing links here</body></html>`)
	}))
	defer source.Close()

	storage := newMemoryStorage()
	p := NewIncomingProcessor(storage, source.Client(), IncomingOptions{BaseURL: "https://blog.example"})

	_, err := p.Run(context.Background(), source.URL, "https://blog.example/article/my-post")

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected RequestError, got %v", err)
	}
	if !strings.Contains(reqErr.Message, "not found in source") {
		t.Errorf("Expected verification failure message, got %q", reqErr.Message)
	}
	if len(storage.mentions) != 0 {
		t.Error("Unverified mention must not be stored")
	}
}

func TestIncomingProcessor_MissingParameters(t *testing.T) {
	p := NewIncomingProcessor(newMemoryStorage(), http.DefaultClient, IncomingOptions{})

	_, err := p.Run(context.Background(), "", "https://blog.example/article/my-post")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("Expected RequestError for missing source, got %v", err)
	}
}

func TestIncomingProcessor_TargetDomainMismatch(t *testing.T) {
	p := NewIncomingProcessor(newMemoryStorage(), http.DefaultClient, IncomingOptions{BaseURL: "https://blog.example"})

	_, err := p.Run(context.Background(), "https://other.example/post", "https://elsewhere.example/page")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected RequestError, got %v", err)
	}
	if !strings.Contains(reqErr.Message, "domain") {
		t.Errorf("Expected domain mismatch message, got %q", reqErr.Message)
	}
}

func TestIncomingProcessor_GoneSourceRetracts(t *testing.T) {
	target := "https://blog.example/article/my-post"

	var gone atomic.Bool
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gone.Load() {
			w.WriteHeader(http.StatusGone)
			return
		}
		fmt.Fprintf(w, `<html><body><a href="%s">post</a></body></html>`, target)
	}))
	defer source.Close()

	storage := newMemoryStorage()
	p := NewIncomingProcessor(storage, source.Client(), IncomingOptions{BaseURL: "https://blog.example"})

	if _, err := p.Run(context.Background(), source.URL+"/reply", target); err != nil {
		t.Fatalf("Initial run failed: %v", err)
	}
	if len(storage.mentions) != 1 {
		t.Fatalf("Expected 1 stored mention, got %d", len(storage.mentions))
	}

	// Re-notification after the source disappeared retracts the mention.
	gone.Store(true)
	location, err := p.Run(context.Background(), source.URL+"/reply", target)
	if err != nil {
		t.Fatalf("Retraction run failed: %v", err)
	}
	if location != "" {
		t.Errorf("Expected empty location for retraction, got %q", location)
	}
	if len(storage.mentions) != 0 {
		t.Error("Expected stored mention removed after source went away")
	}
}

func TestIncomingProcessor_GoneUnknownSourceIsNoop(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer source.Close()

	p := NewIncomingProcessor(newMemoryStorage(), source.Client(), IncomingOptions{})

	location, err := p.Run(context.Background(), source.URL, "https://blog.example/article/my-post")
	if err != nil {
		t.Fatalf("Expected no error for unknown gone source, got %v", err)
	}
	if location != "" {
		t.Errorf("Expected empty location, got %q", location)
	}
}

func TestIncomingProcessor_UnreachableSource(t *testing.T) {
	p := NewIncomingProcessor(newMemoryStorage(), http.DefaultClient, IncomingOptions{})

	_, err := p.Run(context.Background(), "http://127.0.0.1:1/unreachable", "https://blog.example/article/my-post")

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("Expected FetchError for unreachable source, got %v", err)
	}
}

func TestIncomingProcessor_OnProcessedHook(t *testing.T) {
	target := "https://blog.example/article/my-post"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s">post</a></body></html>`, target)
	}))
	defer source.Close()

	var processed *Webmention
	p := NewIncomingProcessor(newMemoryStorage(), source.Client(), IncomingOptions{
		BaseURL:     "https://blog.example",
		OnProcessed: func(m *Webmention) { processed = m },
	})

	if _, err := p.Run(context.Background(), source.URL+"/reply", target); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if processed == nil {
		t.Fatal("Expected OnProcessed hook to be called")
	}
	if processed.Target != target {
		t.Errorf("Expected hook to receive the processed mention, got target %q", processed.Target)
	}
}

func TestSourceParser_PlainLinkFallsBackToMentionType(t *testing.T) {
	target := "https://blog.example/article/my-post"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Some Page</title></head>
			<body><div class="h-entry"><div class="e-content">read <a href="%s">this</a></div></div></body></html>`, target)
	}))
	defer source.Close()

	parser := NewSourceParser(source.Client(), "https://blog.example", "", 0)

	m, err := parser.Run(context.Background(), source.URL, target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if m.MentionType != TypeMention {
		t.Errorf("Expected plain mention type, got %s", m.MentionType)
	}
	if m.MentionTypeRaw != "mention" {
		t.Errorf("Expected raw type 'mention', got %q", m.MentionTypeRaw)
	}
}

func TestSourceParser_LikeTakesPrecedenceOverReply(t *testing.T) {
	target := "https://blog.example/article/my-post"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><div class="h-entry">
			<a class="u-like-of" href="%s">liked</a>
			<a class="u-in-reply-to" href="%s">replied</a>
		</div></body></html>`, target, target)
	}))
	defer source.Close()

	parser := NewSourceParser(source.Client(), "https://blog.example", "", 0)

	m, err := parser.Run(context.Background(), source.URL, target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if m.MentionType != TypeLike {
		t.Errorf("Expected like to take precedence, got %s", m.MentionType)
	}
}

func TestSourceParser_HTMLMetaFallbacks(t *testing.T) {
	target := "https://blog.example/article/my-post"

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head>
			<title>Fallback Title</title>
			<meta name="author" content="John Smith">
			<meta property="article:published_time" content="2025-05-20T08:00:00Z">
		</head><body><p>Long form article that links to <a href="%s">the post</a>.</p></body></html>`, target)
	}))
	defer source.Close()

	parser := NewSourceParser(source.Client(), "https://blog.example", "", 0)

	m, err := parser.Run(context.Background(), source.URL, target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if m.Title != "Fallback Title" {
		t.Errorf("Expected title from <title> tag, got %q", m.Title)
	}
	if m.AuthorName != "John Smith" {
		t.Errorf("Expected author from meta tag, got %q", m.AuthorName)
	}
	if m.Published == nil || m.Published.Year() != 2025 {
		t.Errorf("Expected published from article:published_time, got %v", m.Published)
	}
}

func TestSynthesizeExcerpt(t *testing.T) {
	excerpt := synthesizeExcerpt("  Some   text\n\twith   odd\nwhitespace  ")
	if excerpt != "Some text with odd whitespace" {
		t.Errorf("Expected collapsed whitespace, got %q", excerpt)
	}

	long := strings.Repeat("word ", 100)
	if got := synthesizeExcerpt(long); len([]rune(got)) != excerptMaxLength {
		t.Errorf("Expected excerpt capped at %d runes, got %d", excerptMaxLength, len([]rune(got)))
	}
}
