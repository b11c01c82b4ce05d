package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Domain configuration
	ConfigDir string `long:"config-dir" env:"CONFIG_DIR" default:"./config" description:"Directory containing sources.yaml, filters.yaml and notify.yaml"`

	// Dedup record store
	StoreDriver string `long:"store" env:"STORE_DRIVER" default:"memory" choice:"memory" choice:"sqlite" choice:"postgres" choice:"redis" description:"Backing store for dedup records"`
	StoreDSN    string `long:"store-dsn" env:"STORE_DSN" default:"alert-comb.db" description:"SQLite path or Postgres DSN for the dedup record store"`
	RedisURL    string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the dedup record store"`

	// Transports
	NtfyURL       string `long:"ntfy-url" env:"NTFY_URL" description:"ntfy server URL (overrides notify.yaml)"`
	NtfyToken     string `long:"ntfy-token" env:"NTFY_TOKEN" description:"ntfy access token (overrides notify.yaml)"`
	TelegramToken string `long:"telegram-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token (overrides notify.yaml)"`

	// Sources
	TorProxyURL string `long:"tor-proxy-url" env:"TOR_PROXY_URL" description:"SOCKS5 proxy for nitter requests, e.g. socks5://tor:9050 (optional)"`

	// Application configuration
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP status server port"`
	ShutdownGrace int    `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"20" description:"Seconds to wait for in-flight fetches on shutdown"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for /api endpoints (optional)"`
	BaseURL       string `long:"base-url" env:"BASE_URL" description:"Public base URL used for the alerts feed self link"`
	HistorySize   int    `long:"history-size" env:"HISTORY_SIZE" default:"100" description:"Number of delivered alerts kept for the alerts feed"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses flags and environment. It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		ConfigDir:     raw.ConfigDir,
		StoreDriver:   raw.StoreDriver,
		StoreDSN:      raw.StoreDSN,
		RedisURL:      raw.RedisURL,
		NtfyURL:       raw.NtfyURL,
		NtfyToken:     raw.NtfyToken,
		TelegramToken: raw.TelegramToken,
		Port:          raw.Port,
		ShutdownGrace: time.Duration(raw.ShutdownGrace) * time.Second,
		APIAccessKey:  raw.APIAccessKey,
		TorProxyURL:   raw.TorProxyURL,
		BaseURL:       raw.BaseURL,
		HistorySize:   raw.HistorySize,
		UserAgent:     raw.UserAgent,
		Timezone:      raw.Timezone,
		Debug:         raw.Debug,
		Version:       GetVersion(),
	}

	if cfg.StoreDriver == "redis" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("failed to parse configuration: --redis-url is required for the redis store")
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	return cfg, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}

// NewLogger builds the process logger: text output on stdout, debug level when enabled.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
