package cfg

import "time"

type Cfg struct {
	// Domain configuration
	ConfigDir string

	// Dedup record store
	StoreDriver string
	StoreDSN    string
	RedisURL    string

	// Transports
	NtfyURL       string
	NtfyToken     string
	TelegramToken string

	// Sources
	TorProxyURL string

	// Application configuration
	Port          string
	ShutdownGrace time.Duration
	APIAccessKey  string
	BaseURL       string
	HistorySize   int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
