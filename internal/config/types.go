package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete finchat configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	API      APIConfig     `yaml:"api"`
	Chat     ChatConfig    `yaml:"chat"`
	History  HistoryConfig `yaml:"history"`
	Demo     DemoConfig    `yaml:"demo"`
}

// APIConfig defines the connection to the finance backend.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
	Token   string `yaml:"token"`
}

// ChatConfig defines chat behavior.
type ChatConfig struct {
	ConfirmationPolicy string   `yaml:"confirmation_policy"`
	RequestTimeout     Duration `yaml:"request_timeout"`
}

// HistoryConfig defines the local session history cache.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// DemoConfig defines the built-in demo backend settings.
type DemoConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// Duration accepts Go duration strings ("30s", "2m") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}
