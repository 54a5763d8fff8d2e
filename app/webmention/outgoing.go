package webmention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultWorkerCount = 10

// OutgoingProcessor extracts outbound link targets from local content,
// diffs them against the previously recorded target set, and notifies
// added and removed targets concurrently. The fan-out is best effort:
// each target owns its own error handling and failures never abort the
// remaining targets.
type OutgoingProcessor struct {
	storage     Storage
	client      *http.Client
	extractor   *TargetExtractor
	userAgent   string
	timeout     time.Duration
	workerCount int
}

type OutgoingOptions struct {
	UserAgent    string
	Timeout      time.Duration
	ExcludeHosts []string
	WorkerCount  int
}

func NewOutgoingProcessor(storage Storage, client *http.Client, opts OutgoingOptions) *OutgoingProcessor {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultWorkerCount
	}
	return &OutgoingProcessor{
		storage:     storage,
		client:      client,
		extractor:   NewTargetExtractor(opts.ExcludeHosts),
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		workerCount: opts.WorkerCount,
	}
}

// Run fetches the source page and processes its outbound mentions.
func (p *OutgoingProcessor) Run(ctx context.Context, sourceURL string) error {
	resp, body, err := fetchURL(ctx, p.client, sourceURL, p.userAgent, p.timeout)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("source returned status %s", resp.Status)
	}
	return p.RunContent(ctx, sourceURL, string(body), FormatHTML)
}

// RunContent processes outbound mentions for content supplied directly,
// e.g. by the content watcher. An empty text retracts all previously
// recorded targets.
func (p *OutgoingProcessor) RunContent(ctx context.Context, sourceURL, text string, format TextFormat) error {
	if format == "" {
		format = FormatText
	}
	newTargets := p.extractor.Run(text, format)

	oldTargets := make(map[string]struct{})
	stored, err := p.storage.Retrieve(sourceURL, DirectionOutgoing)
	if err != nil {
		slog.Warn("Failed to load recorded outgoing targets", "source", sourceURL, "error", err)
	} else {
		for _, m := range stored {
			oldTargets[m.Target] = struct{}{}
		}
	}

	added := diffTargets(newTargets, oldTargets)
	removed := diffTargets(oldTargets, newTargets)

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	slog.Info("Processing outgoing webmentions",
		"source", sourceURL, "targets", len(newTargets), "added", len(added), "removed", len(removed))

	// Added and removed targets run on separate pools so a burst of
	// slow endpoints in one class cannot starve the other. The caller
	// blocks until both drain.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.fanOut(ctx, added, func(ctx context.Context, target string) {
			p.notifyAdded(ctx, sourceURL, target)
		})
	}()
	go func() {
		defer wg.Done()
		p.fanOut(ctx, removed, func(ctx context.Context, target string) {
			p.notifyRemoved(ctx, sourceURL, target)
		})
	}()
	wg.Wait()

	return nil
}

// fanOut runs fn for every target on a bounded worker pool and blocks
// until all complete.
func (p *OutgoingProcessor) fanOut(ctx context.Context, targets []string, fn func(context.Context, string)) {
	sem := make(chan struct{}, p.workerCount)
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(target string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, target)
		}(target)
	}

	wg.Wait()
}

func (p *OutgoingProcessor) notifyAdded(ctx context.Context, sourceURL, target string) {
	if err := p.notifyTarget(ctx, sourceURL, target); err != nil {
		slog.Warn("Outgoing webmention failed", "source", sourceURL, "target", target, "error", err)
		return
	}
	if err := p.storage.MarkSent(sourceURL, target); err != nil {
		slog.Warn("Failed to record sent webmention", "source", sourceURL, "target", target, "error", err)
	}
}

// notifyRemoved re-notifies the endpoint for a retracted link; per the
// protocol, detecting the retraction is the target's responsibility.
func (p *OutgoingProcessor) notifyRemoved(ctx context.Context, sourceURL, target string) {
	if err := p.notifyTarget(ctx, sourceURL, target); err != nil {
		slog.Warn("Outgoing webmention retraction failed", "source", sourceURL, "target", target, "error", err)
	}
	if _, err := p.storage.Delete(sourceURL, target, DirectionOutgoing); err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("Failed to delete recorded outgoing webmention", "source", sourceURL, "target", target, "error", err)
	}
}

// notifyTarget discovers the target's webmention endpoint and POSTs the
// source/target pair to it as form data. Targets advertising no
// endpoint are skipped silently.
func (p *OutgoingProcessor) notifyTarget(ctx context.Context, sourceURL, target string) error {
	endpoint, err := p.discoverEndpoint(ctx, target)
	if err != nil {
		return fmt.Errorf("endpoint discovery failed: %w", err)
	}
	if endpoint == "" {
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("source", sourceURL)
	form.Set("target", target)

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return &FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint %s returned status %s", endpoint, resp.Status)
	}

	return nil
}

// diffTargets returns the members of a not present in b, sorted for
// deterministic dispatch order.
func diffTargets(a, b map[string]struct{}) []string {
	var diff []string
	for target := range a {
		if _, ok := b[target]; !ok {
			diff = append(diff, target)
		}
	}
	sort.Strings(diff)
	return diff
}
