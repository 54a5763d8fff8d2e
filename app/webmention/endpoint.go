package webmention

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var linkHeaderURL = regexp.MustCompile(`<([^>]+)>`)

// discoverEndpoint finds the webmention endpoint advertised by a target
// URL. An HTTP Link response header with rel containing "webmention"
// takes priority over in-body <link>/<a rel="webmention"> tags; relative
// hrefs are resolved against the final, post-redirect URL. An empty
// endpoint with a nil error means the target advertises none.
func (p *OutgoingProcessor) discoverEndpoint(ctx context.Context, target string) (string, error) {
	resp, body, err := fetchURL(ctx, p.client, target, p.userAgent, p.timeout)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("target returned status %s", resp.Status)
	}

	finalURL := resp.Request.URL

	for _, header := range resp.Header.Values("Link") {
		for _, part := range strings.Split(header, ",") {
			lower := strings.ToLower(part)
			if !strings.Contains(lower, "rel=") || !strings.Contains(lower, "webmention") {
				continue
			}
			if match := linkHeaderURL.FindStringSubmatch(part); match != nil {
				if resolved, err := finalURL.Parse(match[1]); err == nil {
					return resolved.String(), nil
				}
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil
	}

	endpoint := ""
	doc.Find("link[href], a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rel, _ := sel.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "webmention") {
			return true
		}
		href, _ := sel.Attr("href")
		if resolved, err := finalURL.Parse(strings.TrimSpace(href)); err == nil {
			endpoint = resolved.String()
			return false
		}
		return true
	})

	return endpoint, nil
}
