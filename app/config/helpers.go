package config

import (
	"time"
)

func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (s *Source) GetInterval() time.Duration {
	if s.Interval <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.Interval) * time.Second
}

func (s *Source) GetTimeout() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// DefaultMinimumScore applies when filters.yaml omits minimum_score. An
// explicit 0 lets every item through.
const DefaultMinimumScore = 40

func (f *FiltersConfig) GetMinimumScore() int {
	if f.MinimumScore == nil {
		return DefaultMinimumScore
	}
	return *f.MinimumScore
}

func (d *DedupSettings) GetWindow() time.Duration {
	return time.Duration(d.WindowSeconds) * time.Second
}

func (d *DedupSettings) GetSweepInterval() time.Duration {
	return time.Duration(d.SweepInterval) * time.Second
}

func (r *RetrySettings) GetBaseDelay() time.Duration {
	return time.Duration(r.BaseDelay) * time.Second
}

func (r *RetrySettings) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}

func (f *Formatting) LinkAction() bool {
	return f.IncludeLinkAction == nil || *f.IncludeLinkAction
}

func (f *Formatting) Timestamp() bool {
	return f.IncludeTimestamp == nil || *f.IncludeTimestamp
}

// Target returns the target for a category, falling back to the default target.
func (n *NotifyConfig) Target(category string) Target {
	if t, ok := n.Targets[category]; ok {
		return t
	}
	return n.Targets[DefaultTargetKey]
}
