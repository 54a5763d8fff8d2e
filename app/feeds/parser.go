package feeds

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed is a normalized remote feed, used for the blogroll boundary.
type Feed struct {
	URL         string
	Title       string
	Link        string
	Description string
	ImageURL    string
	Language    string
	Published   *time.Time
	Items       []Item
	LastFetched time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Published   *time.Time
	Authors     []string
}

// Parser fetches and parses remote feeds with a per-URL TTL cache. It
// is safe for concurrent use; cache state is process-scoped and owned
// by the Parser instance.
type Parser struct {
	client       *http.Client
	gofeedParser *gofeed.Parser
	userAgent    string
	timeout      time.Duration
	cacheExpiry  time.Duration
	workerCount  int

	mu    sync.RWMutex
	cache map[string]*Feed
}

func NewParser(client *http.Client, userAgent string, timeout, cacheExpiry time.Duration) *Parser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Parser{
		client:       client,
		gofeedParser: gofeed.NewParser(),
		userAgent:    userAgent,
		timeout:      timeout,
		cacheExpiry:  cacheExpiry,
		workerCount:  10,
		cache:        make(map[string]*Feed),
	}
}

// Run returns the feed at url, from cache when fresh.
func (p *Parser) Run(ctx context.Context, url string) (*Feed, error) {
	if cached := p.cached(url); cached != nil {
		return cached, nil
	}

	data, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	feed := normalizeFeed(url, parsed)
	feed.LastFetched = time.Now().UTC()

	p.mu.Lock()
	p.cache[url] = feed
	p.mu.Unlock()

	return feed, nil
}

// RunAll fetches all given feeds concurrently on a bounded pool.
// Per-feed failures are logged and skipped.
func (p *Parser) RunAll(ctx context.Context, urls []string) map[string]*Feed {
	results := make(map[string]*Feed, len(urls))
	var resultsMu sync.Mutex

	sem := make(chan struct{}, p.workerCount)
	var wg sync.WaitGroup

	for _, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()

			feed, err := p.Run(ctx, url)
			if err != nil {
				slog.Warn("Failed to parse feed", "url", url, "error", err)
				return
			}
			resultsMu.Lock()
			results[url] = feed
			resultsMu.Unlock()
		}(url)
	}

	wg.Wait()
	return results
}

func (p *Parser) cached(url string) *Feed {
	p.mu.RLock()
	defer p.mu.RUnlock()

	feed, ok := p.cache[url]
	if !ok {
		return nil
	}
	if p.cacheExpiry > 0 && time.Since(feed.LastFetched) >= p.cacheExpiry {
		return nil
	}
	return feed
}

func (p *Parser) fetch(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func normalizeFeed(url string, parsed *gofeed.Feed) *Feed {
	feed := &Feed{
		URL:         url,
		Title:       parsed.Title,
		Link:        parsed.Link,
		Description: parsed.Description,
		Language:    parsed.Language,
	}
	if parsed.Image != nil {
		feed.ImageURL = parsed.Image.URL
	}
	if parsed.PublishedParsed != nil {
		feed.Published = parsed.PublishedParsed
	}

	feed.Items = make([]Item, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		normalized := Item{
			GUID:        cmp.Or(item.GUID, item.Link),
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			Content:     item.Content,
		}
		if item.PublishedParsed != nil {
			normalized.Published = item.PublishedParsed
		}
		for _, author := range item.Authors {
			if author != nil && author.Name != "" {
				normalized.Authors = append(normalized.Authors, author.Name)
			}
		}
		feed.Items = append(feed.Items, normalized)
	}

	return feed
}
