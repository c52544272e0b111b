package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finchat-io/finchat/internal/confirm"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists. It
// points the client at the local demo backend.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://127.0.0.1:8090"
	}
	if cfg.API.Version == "" {
		cfg.API.Version = "v1"
	}
	if cfg.Chat.ConfirmationPolicy == "" {
		cfg.Chat.ConfirmationPolicy = string(confirm.PolicyQueue)
	}
	if cfg.Chat.RequestTimeout == 0 {
		cfg.Chat.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "./data/finchat.db"
	}
	if cfg.Demo.Listen == "" {
		cfg.Demo.Listen = "127.0.0.1:8090"
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	if envVarPattern.MatchString(cfg.API.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
		if len(matches) > 1 {
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if envVarPattern.MatchString(cfg.Demo.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.Demo.Token)
		if len(matches) > 1 {
			return fmt.Errorf("demo.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if !confirm.ValidPolicy(confirm.Policy(cfg.Chat.ConfirmationPolicy)) {
		return fmt.Errorf("chat.confirmation_policy must be one of: queue, replace, reject (got %q)", cfg.Chat.ConfirmationPolicy)
	}
	if cfg.Chat.RequestTimeout < 0 {
		return fmt.Errorf("chat.request_timeout must be positive")
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
