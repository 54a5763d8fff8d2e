package cfg

type Cfg struct {
	// Server configuration
	Port    string
	BaseURL string

	// Content and storage configuration
	ContentDir  string
	MentionsDir string
	HardDelete  bool

	// Webmention processing configuration
	WorkerCount          int
	HTTPTimeout          int // seconds
	WatchDebounce        int // seconds
	WatchProcessInterval int // seconds
	ExcludeHosts         []string

	// Notification configuration
	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPStartTLS bool
	SMTPSender   string
	NotifyEmail  string

	// Blogroll configuration
	FeedURLs        []string
	FeedCacheExpiry int // seconds

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
