package alert

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTitle     = errors.New("item title is empty")
	ErrAdapterMissing = errors.New("source adapter not implemented")
)

// FetchError is a transient adapter failure. The scheduler retries it via backoff.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type MissingAdapterError struct {
	Source string
	Kind   string
}

func (e *MissingAdapterError) Error() string {
	return fmt.Sprintf("source %s: no adapter for kind %q", e.Source, e.Kind)
}

func (e *MissingAdapterError) Unwrap() error {
	return ErrAdapterMissing
}

type ScoringError struct {
	Title string
	Err   error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("score %q: %v", e.Title, e.Err)
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

type DispatchError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ConfigError is the only error kind allowed to stop the process, and only at startup.
type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
