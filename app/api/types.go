package api

import (
	"context"
	"time"

	"mentiond/app/feeds"
	"mentiond/app/webmention"
)

// IncomingProcessorInterface is the slice of the incoming processor the
// HTTP surface depends on.
type IncomingProcessorInterface interface {
	Run(ctx context.Context, source, target string) (string, error)
}

var _ IncomingProcessorInterface = (*webmention.IncomingProcessor)(nil)

// BlogrollInterface is the slice of the feed parser the HTTP surface
// depends on.
type BlogrollInterface interface {
	RunAll(ctx context.Context, urls []string) map[string]*feeds.Feed
}

var _ BlogrollInterface = (*feeds.Parser)(nil)

type Handler struct {
	incoming IncomingProcessorInterface
	storage  webmention.Storage
	blogroll BlogrollInterface
	feedURLs []string
	version  string
}

// MentionResponse is the JSON rendering of a stored webmention.
type MentionResponse struct {
	Source      string     `json:"source"`
	Target      string     `json:"target"`
	Title       string     `json:"title,omitempty"`
	Excerpt     string     `json:"excerpt,omitempty"`
	AuthorName  string     `json:"author_name,omitempty"`
	AuthorURL   string     `json:"author_url,omitempty"`
	AuthorPhoto string     `json:"author_photo,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
	MentionType string     `json:"mention_type"`
	CreatedAt   time.Time  `json:"created_at"`
}
