package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/alert-comb/app/alert"
)

const (
	SourcesFile = "sources.yaml"
	FiltersFile = "filters.yaml"
	NotifyFile  = "notify.yaml"
)

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Loader handles loading and validation of the domain configuration files
type Loader struct {
	configDir string
}

func NewLoader(configDir string) *Loader {
	return &Loader{configDir: configDir}
}

// LoadAll loads sources, filters and notification targets. Every failure is
// returned as *alert.ConfigError.
func (l *Loader) LoadAll() (*Config, error) {
	var cfg Config

	if err := l.loadFile(SourcesFile, &cfg.Sources); err != nil {
		return nil, err
	}
	if err := l.loadFile(FiltersFile, &cfg.Filters); err != nil {
		return nil, err
	}
	if err := l.loadFile(NotifyFile, &cfg.Notify); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := validateSources(&cfg.Sources); err != nil {
		return nil, &alert.ConfigError{File: l.path(SourcesFile), Err: err}
	}
	if err := validateFilters(&cfg.Filters); err != nil {
		return nil, &alert.ConfigError{File: l.path(FiltersFile), Err: err}
	}
	if err := validateNotify(&cfg.Notify); err != nil {
		return nil, &alert.ConfigError{File: l.path(NotifyFile), Err: err}
	}

	slog.Debug("Configuration loaded",
		"dir", l.configDir,
		"sources", len(cfg.Sources.Sources),
		"keyword_groups", len(cfg.Filters.KeywordGroups),
		"targets", len(cfg.Notify.Targets))

	return &cfg, nil
}

func (l *Loader) path(name string) string {
	return filepath.Join(l.configDir, name)
}

func (l *Loader) loadFile(name string, out any) error {
	path := l.path(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return &alert.ConfigError{File: path, Err: fmt.Errorf("failed to read file: %w", err)}
	}

	if err := yaml.Unmarshal([]byte(SubstituteEnv(string(data))), out); err != nil {
		return &alert.ConfigError{File: path, Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}

	return nil
}

// SubstituteEnv replaces ${VAR} and ${VAR:-default} with environment values.
func SubstituteEnv(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(parts[1]); ok && value != "" {
			return value
		}
		return parts[2]
	})
}

func setDefaults(cfg *Config) {
	if cfg.Filters.FallbackCategory == "" {
		cfg.Filters.FallbackCategory = string(alert.FallbackCategory)
	}

	dedup := &cfg.Filters.Deduplication
	if dedup.WindowSeconds == 0 {
		dedup.WindowSeconds = 3600
	}
	if dedup.SimilarityThreshold == 0 {
		dedup.SimilarityThreshold = 0.8
	}
	if dedup.SweepInterval == 0 {
		dedup.SweepInterval = 300
	}

	for i := range cfg.Filters.KeywordGroups {
		group := &cfg.Filters.KeywordGroups[i]
		if group.Polarity == "" {
			if group.Weight < 0 {
				group.Polarity = string(alert.PolarityPenalty)
			} else {
				group.Polarity = string(alert.PolarityBoost)
			}
		}
	}

	notify := &cfg.Notify
	if notify.Server.URL == "" {
		notify.Server.URL = "http://localhost:8080"
	}
	if notify.Targets == nil {
		notify.Targets = make(map[string]Target)
	}
	if _, ok := notify.Targets[DefaultTargetKey]; !ok {
		notify.Targets[DefaultTargetKey] = Target{Topic: "crypto-social", Priority: "default", Tags: []string{"bell"}}
	}
	for key, target := range notify.Targets {
		if target.Transport == "" {
			target.Transport = "ntfy"
		}
		if target.Priority == "" {
			target.Priority = "default"
		}
		notify.Targets[key] = target
	}
	if len(notify.ScoreBands) == 0 {
		notify.ScoreBands = []ScoreBand{
			{MinScore: 90, Priority: 5},
			{MinScore: 70, Priority: 4},
			{MinScore: 50, Priority: 3},
		}
	}
	if notify.Retry.Attempts == 0 {
		notify.Retry.Attempts = 3
	}
	if notify.Retry.BaseDelay == 0 {
		notify.Retry.BaseDelay = 1
	}
	if notify.Retry.MaxDelay == 0 {
		notify.Retry.MaxDelay = 30
	}
	if notify.Formatting.MaxTitleLength == 0 {
		notify.Formatting.MaxTitleLength = 100
	}
	if notify.Formatting.MaxBodyLength == 0 {
		notify.Formatting.MaxBodyLength = 500
	}
}

func validateSources(cfg *SourcesConfig) error {
	seen := make(map[string]bool, len(cfg.Sources))

	for i, source := range cfg.Sources {
		if source.Name == "" {
			return fmt.Errorf("source at index %d: name is required", i)
		}
		if source.Kind == "" {
			return fmt.Errorf("source %s: kind is required", source.Name)
		}
		if seen[source.Name] {
			return fmt.Errorf("source %s: duplicate name", source.Name)
		}
		seen[source.Name] = true

		nonNegativeFields := map[string]int{
			"interval": source.Interval,
			"timeout":  source.Timeout,
		}
		for fieldName, fieldValue := range nonNegativeFields {
			if fieldValue < 0 {
				return fmt.Errorf("source %s: %s must be non-negative", source.Name, fieldName)
			}
		}
	}

	return nil
}

func validateFilters(cfg *FiltersConfig) error {
	for i, group := range cfg.KeywordGroups {
		if group.Category == "" {
			return fmt.Errorf("keyword group at index %d: category is required", i)
		}
		if len(group.Words)+len(group.WholeWords) == 0 {
			return fmt.Errorf("keyword group at index %d must have at least one word", i)
		}
		switch alert.Polarity(group.Polarity) {
		case alert.PolarityBoost, alert.PolarityPenalty:
		default:
			return fmt.Errorf("keyword group at index %d: invalid polarity %q", i, group.Polarity)
		}
		for j, word := range group.Words {
			if strings.TrimSpace(word) == "" {
				return fmt.Errorf("keyword group at index %d: empty word at index %d", i, j)
			}
		}
		for j, word := range group.WholeWords {
			if strings.TrimSpace(word) == "" {
				return fmt.Errorf("keyword group at index %d: empty whole word at index %d", i, j)
			}
		}
	}

	dedup := cfg.Deduplication
	if dedup.WindowSeconds < 0 {
		return fmt.Errorf("deduplication window must be non-negative")
	}
	if dedup.SimilarityThreshold < 0 || dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within [0, 1], got %v", dedup.SimilarityThreshold)
	}

	return nil
}

func validateNotify(cfg *NotifyConfig) error {
	validPriorities := map[string]bool{
		"min":     true,
		"low":     true,
		"default": true,
		"high":    true,
		"urgent":  true,
	}
	validTransports := map[string]bool{
		"ntfy":     true,
		"telegram": true,
	}

	for category, target := range cfg.Targets {
		if !validTransports[target.Transport] {
			return fmt.Errorf("target %s: invalid transport %q", category, target.Transport)
		}
		if target.Transport == "ntfy" && target.Topic == "" {
			return fmt.Errorf("target %s: topic is required", category)
		}
		if target.Transport == "telegram" && target.ChatID == 0 {
			return fmt.Errorf("target %s: chat_id is required for telegram", category)
		}
		if !validPriorities[target.Priority] {
			return fmt.Errorf("target %s: invalid priority %q", category, target.Priority)
		}
	}

	for i, band := range cfg.ScoreBands {
		if band.Priority < 1 || band.Priority > 5 {
			return fmt.Errorf("score band at index %d: priority must be within 1..5", i)
		}
	}

	if cfg.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must be non-negative")
	}

	return nil
}
