package webmention

import (
	"fmt"
	"strings"
	"time"
)

// Direction indicates whether this resource is the target of a mention
// (incoming) or its source (outgoing).
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.TrimSpace(strings.ToLower(s))) {
	case DirectionIncoming:
		return DirectionIncoming, nil
	case DirectionOutgoing:
		return DirectionOutgoing, nil
	}
	return "", fmt.Errorf("unknown webmention direction: %q", s)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeleted   Status = "deleted"
)

// MentionType classifies a mention by the microformat property that
// referenced the target. The Webmention recommendation itself defines no
// fixed list; these are the commonly used microformats relations.
type MentionType string

const (
	TypeUnknown  MentionType = "unknown"
	TypeMention  MentionType = "mention"
	TypeReply    MentionType = "reply"
	TypeLike     MentionType = "like"
	TypeRepost   MentionType = "repost"
	TypeBookmark MentionType = "bookmark"
	TypeRSVP     MentionType = "rsvp"
	TypeFollow   MentionType = "follow"
)

var mentionTypeAliases = map[string]MentionType{
	"in-reply-to": TypeReply,
	"reply":       TypeReply,
	"like-of":     TypeLike,
	"like":        TypeLike,
	"repost-of":   TypeRepost,
	"repost":      TypeRepost,
	"bookmark-of": TypeBookmark,
	"bookmark":    TypeBookmark,
	"rsvp":        TypeRSVP,
	"follow-of":   TypeFollow,
	"follow":      TypeFollow,
	"mention":     TypeMention,
}

// MentionTypeFromRaw maps an unnormalized microformat property name
// (e.g. "in-reply-to") to its MentionType.
func MentionTypeFromRaw(raw string) MentionType {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return TypeUnknown
	}
	if t, ok := mentionTypeAliases[normalized]; ok {
		return t
	}
	return TypeUnknown
}

// TextFormat identifies the markup of a piece of content text.
type TextFormat string

const (
	FormatHTML     TextFormat = "html"
	FormatMarkdown TextFormat = "markdown"
	FormatText     TextFormat = "text"
)

// Webmention is one notification relationship between two resources.
// (Source, Target, Direction) is the identity key.
type Webmention struct {
	Source         string
	Target         string
	Direction      Direction
	Title          string
	Excerpt        string
	Content        string
	AuthorName     string
	AuthorURL      string
	AuthorPhoto    string
	Published      *time.Time
	Status         Status
	MentionType    MentionType
	MentionTypeRaw string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *Webmention) Validate() error {
	if m.Source == "" || m.Target == "" {
		return fmt.Errorf("webmention source and target are required")
	}
	if m.Direction != DirectionIncoming && m.Direction != DirectionOutgoing {
		return fmt.Errorf("webmention direction is required")
	}
	return nil
}

// SortKey is the timestamp used for retrieval ordering: the published
// time claimed by the source when present, the local created time
// otherwise.
func (m *Webmention) SortKey() time.Time {
	if m.Published != nil {
		return *m.Published
	}
	return m.CreatedAt
}
