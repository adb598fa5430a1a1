// Package batch triggers batch runs on a cron schedule and bounds each run
// with a maximum duration.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultMaxDuration bounds a scheduled run when no max_duration is set
const DefaultMaxDuration = 4 * time.Hour

// Duration is a time.Duration written as "90m" or "4h" in TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// BatchConfig represents a scheduled batch configuration. Name refers to a
// batch of the loaded definitions.
type BatchConfig struct {
	Name             string   `toml:"name"`
	Cron             string   `toml:"cron"`
	MaxDuration      Duration `toml:"max_duration"`
	NotifyOnComplete bool     `toml:"notify_on_complete"`
	Enabled          *bool    `toml:"enabled"`
}

// ScheduleConfig holds all batch configurations
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// IsEnabled reports whether the batch is scheduled. Unset means enabled.
func (c *BatchConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Timeout returns the effective maximum duration of a run
func (c *BatchConfig) Timeout() time.Duration {
	if c.MaxDuration <= 0 {
		return DefaultMaxDuration
	}
	return time.Duration(c.MaxDuration)
}

// Validate checks if the config is valid
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	return nil
}

// LoadScheduleConfig loads batch configuration from a TOML file. A missing
// file yields an empty schedule.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[cfg.Batches[i].Name] {
			return nil, fmt.Errorf("batch %d: duplicate schedule for %q", i, cfg.Batches[i].Name)
		}
		seen[cfg.Batches[i].Name] = true
	}

	return &cfg, nil
}
