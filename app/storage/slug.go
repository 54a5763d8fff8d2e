package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 50

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s_-]`)
	hyphenRuns  = regexp.MustCompile(`[-\s]+`)

	// NFD decomposition followed by combining-mark removal folds
	// accented characters to their ASCII base before sanitizing.
	asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// safeFilename turns arbitrary text into a filesystem-safe token:
// accents folded, unsafe characters stripped, whitespace and hyphen
// runs collapsed to single hyphens, capped at maxSlugLength.
func safeFilename(text string) string {
	if folded, _, err := transform.String(asciiFold, text); err == nil {
		text = folded
	}
	text = unsafeChars.ReplaceAllString(text, "")
	text = hyphenRuns.ReplaceAllString(text, "-")
	if len(text) > maxSlugLength {
		text = text[:maxSlugLength]
	}
	return strings.Trim(text, "-")
}

// resourceSlug derives the directory slug from the last path segment of
// the owning resource URL.
func resourceSlug(resource string) string {
	trimmed := strings.TrimRight(resource, "/")
	parts := strings.Split(trimmed, "/")
	slug := safeFilename(parts[len(parts)-1])
	if slug == "" {
		slug = "index"
	}
	return slug
}

// mentionFilename derives a collision-resistant, human-identifiable
// filename from the counterpart URL: a sanitized domain fragment plus a
// short hash of the full URL.
func mentionFilename(counterpart string) string {
	sum := md5.Sum([]byte(counterpart))
	urlHash := hex.EncodeToString(sum[:])[:8]

	domain := ""
	if u, err := url.Parse(counterpart); err == nil {
		domain = safeFilename(strings.ReplaceAll(u.Host, ".", "-"))
	}

	return fmt.Sprintf("webmention-%s-%s.md", domain, urlHash)
}
