package config

// Config is the complete domain configuration loaded from the config directory.
type Config struct {
	Sources SourcesConfig
	Filters FiltersConfig
	Notify  NotifyConfig
}

type SourcesConfig struct {
	Sources []Source `yaml:"sources"`
}

// Source describes one polled source. Kind selects the adapter; the remaining
// fields are source-specific parameters and are ignored by adapters that do
// not use them.
type Source struct {
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Enabled          *bool    `yaml:"enabled"`
	Interval         int      `yaml:"interval"` // seconds
	Timeout          int      `yaml:"timeout"`  // seconds
	Category         string   `yaml:"category"`
	PriorityBoost    int      `yaml:"priority_boost"`
	Language         string   `yaml:"language"`
	KeywordsRequired []string `yaml:"keywords_required"`

	// rss
	URL            string `yaml:"url"`
	ExtractContent bool   `yaml:"extract_content"`

	// nitter
	Handles   []Handle `yaml:"handles"`
	Instances []string `yaml:"instances"`
	ProxyURL  string   `yaml:"proxy_url"` // socks5:// or http://, overrides TOR_PROXY_URL

	// nostr
	Relays  []string `yaml:"relays"`
	PubKeys []string `yaml:"pubkeys"`
}

type Handle struct {
	Handle           string   `yaml:"handle"`
	Category         string   `yaml:"category"`
	PriorityBoost    int      `yaml:"priority_boost"`
	KeywordsRequired []string `yaml:"keywords_required"`
}

type FiltersConfig struct {
	MinimumScore     *int           `yaml:"minimum_score"`
	FallbackCategory string         `yaml:"fallback_category"`
	KeywordGroups    []KeywordGroup `yaml:"keyword_groups"`
	Deduplication    DedupSettings  `yaml:"deduplication"`
}

type KeywordGroup struct {
	Name       string   `yaml:"name"`
	Language   string   `yaml:"language"`
	Category   string   `yaml:"category"`
	Polarity   string   `yaml:"polarity"` // boost | penalty
	Weight     int      `yaml:"weight"`
	Words      []string `yaml:"words"`       // prefix match: "exploit" hits "exploited"
	WholeWords []string `yaml:"whole_words"` // "AMA" does not hit "Amazon"
}

type DedupSettings struct {
	WindowSeconds       int     `yaml:"window_seconds"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SweepInterval       int     `yaml:"sweep_interval"` // seconds
}

type NotifyConfig struct {
	Server     ServerSettings    `yaml:"server"`
	Telegram   TelegramSettings  `yaml:"telegram"`
	Targets    map[string]Target `yaml:"targets"`
	ScoreBands []ScoreBand       `yaml:"score_bands"`
	Retry      RetrySettings     `yaml:"retry"`
	Formatting Formatting        `yaml:"formatting"`
}

type ServerSettings struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type TelegramSettings struct {
	Token string `yaml:"token"`
}

// Target is where alerts of one category go.
type Target struct {
	Topic     string   `yaml:"topic"`
	Priority  string   `yaml:"priority"` // min | low | default | high | urgent
	Tags      []string `yaml:"tags"`
	Transport string   `yaml:"transport"` // ntfy | telegram
	ChatID    int64    `yaml:"chat_id"`
}

type ScoreBand struct {
	MinScore int `yaml:"min_score"`
	Priority int `yaml:"priority"` // 1..5
}

type RetrySettings struct {
	Attempts  int `yaml:"attempts"`
	BaseDelay int `yaml:"base_delay"` // seconds
	MaxDelay  int `yaml:"max_delay"`  // seconds
}

type Formatting struct {
	MaxTitleLength    int   `yaml:"max_title_length"`
	MaxBodyLength     int   `yaml:"max_body_length"`
	IncludeLinkAction *bool `yaml:"include_link_action"`
	IncludeTimestamp  *bool `yaml:"include_timestamp"`
}

const DefaultTargetKey = "default"
