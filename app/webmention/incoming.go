package webmention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// IncomingProcessor verifies inbound webmention notifications and
// persists the resulting mention. A processed mention is handed to the
// optional OnProcessed hook (e.g. an email notifier).
type IncomingProcessor struct {
	storage     Storage
	parser      *SourceParser
	onProcessed func(*Webmention)
}

type IncomingOptions struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	OnProcessed func(*Webmention)
}

func NewIncomingProcessor(storage Storage, client *http.Client, opts IncomingOptions) *IncomingProcessor {
	return &IncomingProcessor{
		storage:     storage,
		parser:      NewSourceParser(client, opts.BaseURL, opts.UserAgent, opts.Timeout),
		onProcessed: opts.OnProcessed,
	}
}

// Run processes one inbound notification. It returns the storage
// location of the persisted mention, or an empty location when the
// source is gone and the previously stored mention was retracted.
func (p *IncomingProcessor) Run(ctx context.Context, source, target string) (string, error) {
	slog.Info("Received webmention", "source", source, "target", target)

	mention, err := p.parser.Run(ctx, source, target)
	if err != nil {
		var gone *GoneError
		if errors.As(err, &gone) {
			if _, derr := p.storage.Delete(source, target, DirectionIncoming); derr != nil && !errors.Is(derr, ErrNotFound) {
				return "", fmt.Errorf("failed to retract webmention: %w", derr)
			}
			slog.Info("Deleted webmention", "source", source, "target", target)
			return "", nil
		}
		return "", err
	}

	now := time.Now().UTC()
	if mention.CreatedAt.IsZero() {
		if mention.Published != nil {
			mention.CreatedAt = *mention.Published
		} else {
			mention.CreatedAt = now
		}
	}
	mention.UpdatedAt = now
	mention.Status = StatusConfirmed

	location, err := p.storage.Store(mention)
	if err != nil {
		return "", fmt.Errorf("failed to store webmention: %w", err)
	}

	slog.Info("Processed webmention", "source", source, "target", target, "type", string(mention.MentionType))

	if p.onProcessed != nil {
		p.onProcessed(mention)
	}

	return location, nil
}
