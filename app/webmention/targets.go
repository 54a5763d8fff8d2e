package webmention

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmparser "github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"
)

var bareURL = regexp.MustCompile(`(?i)https?://[^\s)\]}>"']+`)

// TargetExtractor pulls the set of absolute http(s) URLs a piece of
// content links to, excluding a configured set of hosts (typically the
// blog's own domain, to avoid self-notification loops).
type TargetExtractor struct {
	excludeHosts map[string]struct{}
	markdown     gmparser.Parser
}

func NewTargetExtractor(excludeHosts []string) *TargetExtractor {
	excluded := make(map[string]struct{}, len(excludeHosts))
	for _, host := range excludeHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			excluded[host] = struct{}{}
		}
	}
	return &TargetExtractor{
		excludeHosts: excluded,
		markdown:     goldmark.New().Parser(),
	}
}

func (e *TargetExtractor) Run(text string, format TextFormat) map[string]struct{} {
	var urls map[string]struct{}
	switch format {
	case FormatHTML:
		urls = extractHTMLURLs(text)
	case FormatMarkdown:
		urls = e.extractMarkdownURLs(text)
	default:
		urls = extractBareURLs(text)
	}
	return e.cleanAndFilter(urls)
}

func extractHTMLURLs(html string) map[string]struct{} {
	urls := make(map[string]struct{})

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return urls
	}

	doc.Find("a[href], link[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			urls[href] = struct{}{}
		}
	})

	return urls
}

// extractMarkdownURLs walks the parsed document for link and autolink
// nodes, then unions in bare URLs the markdown syntax does not cover.
func (e *TargetExtractor) extractMarkdownURLs(markdown string) map[string]struct{} {
	urls := make(map[string]struct{})
	src := []byte(markdown)

	root := e.markdown.Parse(gmtext.NewReader(src))
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			urls[string(node.Destination)] = struct{}{}
		case *ast.AutoLink:
			urls[string(node.URL(src))] = struct{}{}
		}
		return ast.WalkContinue, nil
	})

	for u := range extractBareURLs(markdown) {
		urls[u] = struct{}{}
	}

	return urls
}

func extractBareURLs(text string) map[string]struct{} {
	urls := make(map[string]struct{})
	for _, match := range bareURL.FindAllString(text, -1) {
		urls[match] = struct{}{}
	}
	return urls
}

func (e *TargetExtractor) cleanAndFilter(urls map[string]struct{}) map[string]struct{} {
	cleaned := make(map[string]struct{}, len(urls))
	for raw := range urls {
		trimmed := strings.TrimRight(strings.TrimSpace(raw), `.,;:!?)"]'`)
		if trimmed == "" {
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil {
			continue
		}
		scheme := strings.ToLower(parsed.Scheme)
		if scheme != "http" && scheme != "https" || parsed.Host == "" {
			continue
		}
		if _, excluded := e.excludeHosts[strings.ToLower(parsed.Host)]; excluded {
			continue
		}
		cleaned[trimmed] = struct{}{}
	}
	return cleaned
}
