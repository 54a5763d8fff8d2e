package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"mentiond/app/webmention"
)

// Each stored mention is a Markdown document whose leading lines are
// invisible comment lines of the form "[//]: # (key: value)", followed
// by a blank line and the free-text content body.

var (
	metadataLine = regexp.MustCompile(`^\[//]: # \(([^:]+): (.+)\)$`)
	newlineRuns  = regexp.MustCompile(`[\r\n]+`)
)

func formatMention(m *webmention.Webmention) string {
	var b strings.Builder

	writeField := func(key, value string) {
		if value == "" {
			return
		}
		// The line format cannot carry newlines; collapse them so the
		// value survives a re-parse.
		value = newlineRuns.ReplaceAllString(value, " ")
		fmt.Fprintf(&b, "[//]: # (%s: %s)\n", key, value)
	}

	writeField("source", m.Source)
	writeField("target", m.Target)
	writeField("direction", string(m.Direction))
	writeField("title", m.Title)
	writeField("excerpt", m.Excerpt)
	writeField("author_name", m.AuthorName)
	writeField("author_url", m.AuthorURL)
	writeField("author_photo", m.AuthorPhoto)
	if m.Published != nil {
		writeField("published", m.Published.UTC().Format(time.RFC3339Nano))
	}
	writeField("status", string(m.Status))
	writeField("mention_type", string(m.MentionType))
	writeField("mention_type_raw", m.MentionTypeRaw)
	// RFC3339Nano keeps sub-second precision so a parsed record equals
	// the stored one, and same-second mentions keep a stable order.
	if !m.CreatedAt.IsZero() {
		writeField("created_at", m.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if !m.UpdatedAt.IsZero() {
		writeField("updated_at", m.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}

	b.WriteString("\n")
	b.WriteString(m.Content)
	b.WriteString("\n")

	return b.String()
}

func parseMention(data []byte) (*webmention.Webmention, error) {
	metadata := make(map[string]string)
	var body []string
	inBody := false

	for _, line := range strings.Split(string(data), "\n") {
		if inBody {
			body = append(body, line)
			continue
		}
		if match := metadataLine.FindStringSubmatch(line); match != nil {
			metadata[strings.TrimSpace(match[1])] = strings.TrimSpace(match[2])
			continue
		}
		if strings.TrimSpace(line) == "" && len(metadata) > 0 {
			inBody = true
		}
	}

	if metadata["source"] == "" || metadata["target"] == "" {
		return nil, fmt.Errorf("missing source or target metadata")
	}

	direction, err := webmention.ParseDirection(metadata["direction"])
	if err != nil {
		return nil, err
	}

	m := &webmention.Webmention{
		Source:         metadata["source"],
		Target:         metadata["target"],
		Direction:      direction,
		Title:          metadata["title"],
		Excerpt:        metadata["excerpt"],
		AuthorName:     metadata["author_name"],
		AuthorURL:      metadata["author_url"],
		AuthorPhoto:    metadata["author_photo"],
		Status:         webmention.Status(metadata["status"]),
		MentionType:    webmention.MentionType(metadata["mention_type"]),
		MentionTypeRaw: metadata["mention_type_raw"],
		Content:        strings.TrimRight(strings.Join(body, "\n"), "\n"),
	}

	if m.Status == "" {
		m.Status = webmention.StatusPending
	}
	if m.MentionType == "" {
		m.MentionType = webmention.TypeUnknown
	}

	if v := metadata["published"]; v != "" {
		if t, err := dateparse.ParseAny(v); err == nil {
			t = t.UTC()
			m.Published = &t
		}
	}
	// RFC3339Nano parses timestamps with or without fractional seconds,
	// so files written before precision was kept still load.
	if v := metadata["created_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			m.CreatedAt = t.UTC()
		}
	}
	if v := metadata["updated_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			m.UpdatedAt = t.UTC()
		}
	}

	return m, nil
}
