package webmention

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"willnorris.com/go/microformats"
)

const excerptMaxLength = 240

var whitespaceRuns = regexp.MustCompile(`\s+`)

// SourceParser verifies an inbound webmention claim against the source
// page and extracts structured metadata from it.
type SourceParser struct {
	client    *http.Client
	baseURL   string
	userAgent string
	timeout   time.Duration
}

func NewSourceParser(client *http.Client, baseURL, userAgent string, timeout time.Duration) *SourceParser {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &SourceParser{
		client:    client,
		baseURL:   baseURL,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Run fetches the source page, checks that it references the target
// verbatim, and builds a pending incoming mention from its content.
func (p *SourceParser) Run(ctx context.Context, source, target string) (*Webmention, error) {
	if source == "" || target == "" {
		return nil, &RequestError{Source: source, Target: target, Message: "missing source or target URL"}
	}

	if p.baseURL != "" {
		targetURL, err := url.Parse(target)
		if err != nil {
			return nil, &RequestError{Source: source, Target: target, Message: "target is not a valid URL"}
		}
		base, err := url.Parse(p.baseURL)
		if err == nil && !strings.EqualFold(targetURL.Host, base.Host) {
			return nil, &RequestError{Source: source, Target: target, Message: "target URL domain does not match server domain"}
		}
	}

	resp, body, err := fetchURL(ctx, p.client, source, p.userAgent, p.timeout)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, &GoneError{Source: source, Target: target}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Source: source, Target: target,
			Message: "source URL returned status " + resp.Status}
	}

	if !bytes.Contains(body, []byte(target)) {
		return nil, &RequestError{Source: source, Target: target, Message: "target URL not found in source content"}
	}

	mention := &Webmention{
		Source:      source,
		Target:      target,
		Direction:   DirectionIncoming,
		Status:      StatusPending,
		MentionType: TypeUnknown,
	}

	p.parseSourcePayload(mention, body, source, target)

	return mention, nil
}

// parseSourcePayload fills the mention from the fetched document.
// Sub-step failures leave fields empty; they never abort the operation.
func (p *SourceParser) parseSourcePayload(mention *Webmention, body []byte, source, target string) {
	if entry := extractHEntry(body, source); entry != nil {
		fillFromHEntry(mention, entry, target)
	}

	fillFromHTMLFallbacks(mention, body)

	if mention.Content == "" {
		if content, err := extractReadableContent(body); err == nil {
			mention.Content = content
		} else {
			slog.Debug("No readable content extracted from source", "source", source, "error", err)
		}
	}

	if mention.Excerpt == "" && mention.Content != "" {
		mention.Excerpt = synthesizeExcerpt(mention.Content)
	}
}

// extractHEntry returns the first h-entry item in the document,
// descending one level into children when the top level has none.
func extractHEntry(body []byte, source string) *microformats.Microformat {
	sourceURL, err := url.Parse(source)
	if err != nil {
		return nil
	}

	data := microformats.Parse(bytes.NewReader(body), sourceURL)
	if data == nil {
		return nil
	}

	for _, item := range data.Items {
		if hasType(item, "h-entry") {
			return item
		}
	}
	for _, item := range data.Items {
		for _, child := range item.Children {
			if hasType(child, "h-entry") {
				return child
			}
		}
	}

	return nil
}

func hasType(item *microformats.Microformat, t string) bool {
	for _, it := range item.Type {
		if it == t {
			return true
		}
	}
	return false
}

func fillFromHEntry(mention *Webmention, entry *microformats.Microformat, target string) {
	props := entry.Properties

	if mention.Title == "" {
		mention.Title = firstString(props["name"])
	}
	if mention.Published == nil {
		if published := firstString(props["published"]); published != "" {
			if t, err := dateparse.ParseAny(published); err == nil {
				t = t.UTC()
				mention.Published = &t
			}
		}
	}
	if mention.Excerpt == "" {
		mention.Excerpt = firstString(props["summary"])
	}
	if mention.Content == "" {
		mention.Content = firstContent(props["content"])
	}

	if mention.AuthorName == "" && mention.AuthorURL == "" && mention.AuthorPhoto == "" {
		fillAuthor(mention, props["author"])
	}

	if mention.MentionType == TypeUnknown {
		switch {
		case propertyContains(props["like-of"], target):
			mention.MentionTypeRaw = "like-of"
		case propertyContains(props["repost-of"], target):
			mention.MentionTypeRaw = "repost-of"
		case propertyContains(props["in-reply-to"], target):
			mention.MentionTypeRaw = "in-reply-to"
		default:
			mention.MentionTypeRaw = "mention"
		}
		mention.MentionType = MentionTypeFromRaw(mention.MentionTypeRaw)
	}
}

// firstString pulls the first usable string out of a microformats
// property value list, which mixes plain strings, value/url maps, and
// nested microformat objects.
func firstString(values []interface{}) string {
	for _, v := range values {
		switch value := v.(type) {
		case string:
			if value != "" {
				return value
			}
		case map[string]string:
			for _, key := range []string{"value", "url"} {
				if s := value[key]; s != "" {
					return s
				}
			}
		case map[string]interface{}:
			for _, key := range []string{"value", "url"} {
				if s, ok := value[key].(string); ok && s != "" {
					return s
				}
			}
		case *microformats.Microformat:
			if value.Value != "" {
				return value.Value
			}
		}
	}
	return ""
}

// firstContent prefers the plain-text value of an e-content property
// and falls back to its embedded HTML.
func firstContent(values []interface{}) string {
	for _, v := range values {
		switch value := v.(type) {
		case string:
			if value != "" {
				return value
			}
		case map[string]string:
			if s := value["value"]; s != "" {
				return s
			}
			if s := value["html"]; s != "" {
				return s
			}
		case map[string]interface{}:
			for _, key := range []string{"value", "html"} {
				if s, ok := value[key].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return firstString(values)
}

func fillAuthor(mention *Webmention, values []interface{}) {
	for _, v := range values {
		switch value := v.(type) {
		case string:
			mention.AuthorURL = value
			return
		case *microformats.Microformat:
			mention.AuthorName = firstString(value.Properties["name"])
			mention.AuthorURL = firstString(value.Properties["url"])
			mention.AuthorPhoto = firstString(value.Properties["photo"])
			return
		}
	}
}

func propertyContains(values []interface{}, target string) bool {
	for _, v := range values {
		switch value := v.(type) {
		case string:
			if value == target {
				return true
			}
		case *microformats.Microformat:
			if value.Value == target {
				return true
			}
		}
	}
	return false
}

// fillFromHTMLFallbacks fills any still-empty field from generic HTML
// metadata: Open Graph / Twitter card title, meta author,
// article:published_time, and the Open Graph description.
func fillFromHTMLFallbacks(mention *Webmention, body []byte) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}

	metaContent := func(selector string) string {
		content, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(content)
	}

	if mention.Title == "" {
		if title := metaContent(`meta[property="og:title"]`); title != "" {
			mention.Title = title
		} else if title := metaContent(`meta[name="twitter:title"]`); title != "" {
			mention.Title = title
		} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			mention.Title = title
		}
	}

	if mention.AuthorName == "" {
		mention.AuthorName = metaContent(`meta[name="author"]`)
	}

	if mention.Published == nil {
		if published := metaContent(`meta[property="article:published_time"]`); published != "" {
			if t, err := dateparse.ParseAny(published); err == nil {
				t = t.UTC()
				mention.Published = &t
			}
		}
	}

	if mention.Content == "" {
		mention.Content = metaContent(`meta[property="og:description"]`)
	}
}

func extractReadableContent(body []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}

// synthesizeExcerpt collapses whitespace and truncates to a bounded
// length without splitting a rune.
func synthesizeExcerpt(content string) string {
	excerpt := strings.TrimSpace(whitespaceRuns.ReplaceAllString(content, " "))
	runes := []rune(excerpt)
	if len(runes) > excerptMaxLength {
		excerpt = string(runes[:excerptMaxLength])
	}
	return excerpt
}
