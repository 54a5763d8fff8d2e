package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mentiond/app/api"
	"mentiond/app/cfg"
	"mentiond/app/feeds"
	"mentiond/app/notify"
	"mentiond/app/storage"
	"mentiond/app/watcher"
	"mentiond/app/webmention"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogger(appCfg.Debug)
	slog.Info("Starting mentiond", "version", appCfg.Version)

	mentionStorage, err := storage.NewFileStorage(appCfg.MentionsDir, appCfg.HardDelete)
	if err != nil {
		slog.Error("Failed to initialize mention storage", "error", err)
		os.Exit(1)
	}
	slog.Info("Mention storage initialized", "dir", appCfg.MentionsDir, "hard_delete", appCfg.HardDelete)

	httpClient := &http.Client{}
	httpTimeout := time.Duration(appCfg.HTTPTimeout) * time.Second

	var onProcessed func(*webmention.Webmention)
	if appCfg.SMTPServer != "" && appCfg.NotifyEmail != "" {
		notifier := notify.NewEmailNotifier(notify.SMTPConfig{
			Server:   appCfg.SMTPServer,
			Port:     appCfg.SMTPPort,
			Username: appCfg.SMTPUsername,
			Password: appCfg.SMTPPassword,
			StartTLS: appCfg.SMTPStartTLS,
			Sender:   appCfg.SMTPSender,
		}, appCfg.NotifyEmail, appCfg.BaseURL)
		onProcessed = notifier.Run
		slog.Info("Email notifications enabled", "recipient", appCfg.NotifyEmail)
	}

	incoming := webmention.NewIncomingProcessor(mentionStorage, httpClient, webmention.IncomingOptions{
		BaseURL:     appCfg.BaseURL,
		UserAgent:   appCfg.UserAgent,
		Timeout:     httpTimeout,
		OnProcessed: onProcessed,
	})

	outgoing := webmention.NewOutgoingProcessor(mentionStorage, httpClient, webmention.OutgoingOptions{
		UserAgent:    appCfg.UserAgent,
		Timeout:      httpTimeout,
		ExcludeHosts: excludedHosts(appCfg),
		WorkerCount:  appCfg.WorkerCount,
	})

	contentWatcher, err := watcher.New(watcher.Config{
		Root:            appCfg.ContentDir,
		FileURL:         fileURLMapper(appCfg),
		OnChange:        onContentChange(outgoing),
		Debounce:        time.Duration(appCfg.WatchDebounce) * time.Second,
		ProcessInterval: time.Duration(appCfg.WatchProcessInterval) * time.Second,
	})
	if err != nil {
		slog.Error("Failed to initialize content watcher", "error", err)
		os.Exit(1)
	}
	if err := contentWatcher.Start(); err != nil {
		slog.Warn("Content watcher not started", "error", err)
	} else {
		defer contentWatcher.Stop()
	}

	feedParser := feeds.NewParser(httpClient, appCfg.UserAgent, httpTimeout,
		time.Duration(appCfg.FeedCacheExpiry)*time.Second)

	apiHandler := api.NewHandler(incoming, mentionStorage, feedParser, appCfg.FeedURLs, appCfg.Version)
	server := api.NewServer(apiHandler)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Content watcher is stopped via defer
	slog.Info("Shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// excludedHosts is the configured exclusion set plus the site's own
// host, so content never notifies the blog about itself.
func excludedHosts(appCfg *cfg.Cfg) []string {
	hosts := append([]string{}, appCfg.ExcludeHosts...)
	if appCfg.BaseURL != "" {
		if base, err := url.Parse(appCfg.BaseURL); err == nil && base.Host != "" {
			hosts = append(hosts, base.Host)
		}
	}
	return hosts
}

// fileURLMapper maps a content file path to its public article URL:
// the path relative to the content directory with the extension
// stripped, under <base-url>/article/.
func fileURLMapper(appCfg *cfg.Cfg) func(string) string {
	base := strings.TrimRight(appCfg.BaseURL, "/")
	contentDir := appCfg.ContentDir

	return func(path string) string {
		rel, err := filepath.Rel(contentDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel))
		return base + "/article/" + filepath.ToSlash(rel)
	}
}

// onContentChange drives the outgoing processor from watcher events. A
// deleted file is processed with empty content, which retracts every
// previously recorded target for its URL.
func onContentChange(outgoing *webmention.OutgoingProcessor) func(string, watcher.ContentChange) {
	return func(sourceURL string, change watcher.ContentChange) {
		slog.Debug("Content change", "type", string(change.Type), "path", change.Path, "url", sourceURL)

		var err error
		if change.Type == watcher.ChangeDeleted {
			err = outgoing.RunContent(context.Background(), sourceURL, "", webmention.FormatText)
		} else {
			err = outgoing.RunContent(context.Background(), sourceURL, change.Text, change.Format)
		}
		if err != nil {
			slog.Warn("Failed to process outgoing webmentions", "source", sourceURL, "error", err)
		}
	}
}
