package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Server configuration
	Port    string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseURL string `long:"base-url" env:"BASE_URL" description:"Public base URL of the site (e.g. https://blog.example.com)"`

	// Content and storage configuration
	ContentDir  string `long:"content-dir" env:"CONTENT_DIR" default:"./content" description:"Directory containing content files to watch for outgoing mentions"`
	MentionsDir string `long:"mentions-dir" env:"MENTIONS_DIR" default:"./mentions" description:"Directory where webmentions are stored"`
	HardDelete  bool   `long:"hard-delete" env:"MENTIONS_HARD_DELETE" description:"Remove mention files on delete instead of flipping their status"`

	// Webmention processing configuration
	WorkerCount          int      `long:"worker-count" env:"WORKER_COUNT" default:"10" description:"Number of concurrent workers for outgoing notifications"`
	HTTPTimeout          int      `long:"http-timeout" env:"HTTP_TIMEOUT" default:"30" description:"Timeout in seconds for outbound HTTP requests"`
	WatchDebounce        int      `long:"debounce" env:"WATCH_DEBOUNCE" default:"2" description:"Quiet period in seconds before a changed file is processed"`
	WatchProcessInterval int      `long:"process-interval" env:"WATCH_PROCESS_INTERVAL" default:"2" description:"Minimum interval in seconds between change batches"`
	ExcludeHosts         []string `long:"exclude-host" env:"EXCLUDE_HOSTS" env-delim:"," description:"Hosts never notified of outgoing mentions (the base URL host is always excluded)"`

	// Notification configuration
	SMTPServer   string `long:"smtp-server" env:"SMTP_SERVER" description:"SMTP server for webmention email notifications (disabled when empty)"`
	SMTPPort     int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP server port"`
	SMTPUsername string `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP username"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	SMTPStartTLS bool   `long:"smtp-starttls" env:"SMTP_STARTTLS" description:"Use STARTTLS when talking to the SMTP server"`
	SMTPSender   string `long:"smtp-sender" env:"SMTP_SENDER" description:"Sender address for notification emails"`
	NotifyEmail  string `long:"notify-email" env:"NOTIFY_EMAIL" description:"Recipient for webmention notification emails (disabled when empty)"`

	// Blogroll configuration
	FeedCacheExpiry int `long:"feed-cache-expiry" env:"FEED_CACHE_EXPIRY" default:"3600" description:"Blogroll feed cache TTL in seconds"`

	// Application metadata
	UserAgent  string `long:"user-agent" env:"USER_AGENT" default:"mentiond/1.0" description:"User agent string for HTTP requests"`
	Timezone   string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g. UTC, America/New_York)"`
	Debug      bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
	ConfigFile string `long:"config" env:"CONFIG" description:"Optional YAML site configuration file"`
}

// siteFile carries the settings that fit a YAML file better than flags:
// lists and the SMTP block. File values fill fields left unset on the
// command line or environment.
type siteFile struct {
	BaseURL      string   `yaml:"base_url"`
	ExcludeHosts []string `yaml:"exclude_hosts"`
	Feeds        []string `yaml:"feeds"`
	NotifyEmail  string   `yaml:"notify_email"`
	HardDelete   *bool    `yaml:"hard_delete"`
	SMTP         struct {
		Server   string `yaml:"server"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		StartTLS *bool  `yaml:"starttls"`
		Sender   string `yaml:"sender"`
	} `yaml:"smtp"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:                 raw.Port,
		BaseURL:              raw.BaseURL,
		ContentDir:           raw.ContentDir,
		MentionsDir:          raw.MentionsDir,
		HardDelete:           raw.HardDelete,
		WorkerCount:          raw.WorkerCount,
		HTTPTimeout:          raw.HTTPTimeout,
		WatchDebounce:        raw.WatchDebounce,
		WatchProcessInterval: raw.WatchProcessInterval,
		ExcludeHosts:         raw.ExcludeHosts,
		SMTPServer:           raw.SMTPServer,
		SMTPPort:             raw.SMTPPort,
		SMTPUsername:         raw.SMTPUsername,
		SMTPPassword:         raw.SMTPPassword,
		SMTPStartTLS:         raw.SMTPStartTLS,
		SMTPSender:           raw.SMTPSender,
		NotifyEmail:          raw.NotifyEmail,
		FeedCacheExpiry:      raw.FeedCacheExpiry,
		UserAgent:            raw.UserAgent,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if raw.ConfigFile != "" {
		if err := applySiteFile(cfg, raw.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applySiteFile(cfg *Cfg, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read site configuration: %w", err)
	}

	var site siteFile
	if err := yaml.Unmarshal(data, &site); err != nil {
		return fmt.Errorf("failed to parse site configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = site.BaseURL
	}
	if len(cfg.ExcludeHosts) == 0 {
		cfg.ExcludeHosts = site.ExcludeHosts
	}
	cfg.FeedURLs = site.Feeds
	if cfg.NotifyEmail == "" {
		cfg.NotifyEmail = site.NotifyEmail
	}
	if site.HardDelete != nil {
		cfg.HardDelete = *site.HardDelete
	}
	if cfg.SMTPServer == "" {
		cfg.SMTPServer = site.SMTP.Server
	}
	if site.SMTP.Port != 0 {
		cfg.SMTPPort = site.SMTP.Port
	}
	if cfg.SMTPUsername == "" {
		cfg.SMTPUsername = site.SMTP.Username
	}
	if cfg.SMTPPassword == "" {
		cfg.SMTPPassword = site.SMTP.Password
	}
	if site.SMTP.StartTLS != nil {
		cfg.SMTPStartTLS = *site.SMTP.StartTLS
	}
	if cfg.SMTPSender == "" {
		cfg.SMTPSender = site.SMTP.Sender
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
