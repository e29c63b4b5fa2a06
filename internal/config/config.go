// ABOUTME: Configuration loading and parsing for pufferblow clients.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a complete client configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Federation FederationConfig `yaml:"federation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the server endpoints.
type ServerConfig struct {
	// BaseURL is the REST API root, e.g. "http://localhost:7575".
	BaseURL string `yaml:"base_url"`
	// WSURL is the WebSocket endpoint, e.g. "ws://localhost:7575/ws".
	// Derived from BaseURL when empty.
	WSURL string `yaml:"ws_url"`
}

// AuthConfig holds credentials. The token, when set, skips sign-in.
type AuthConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	AuthToken string `yaml:"auth_token"`
}

// ReconnectConfig holds reconnection tuning.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"-"`
	MaxDelay   time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`

	// Raw string values for YAML unmarshaling
	BaseDelayRaw string `yaml:"base_delay"`
	MaxDelayRaw  string `yaml:"max_delay"`
}

// FederationConfig holds resolver tuning.
type FederationConfig struct {
	ActorCacheTTL time.Duration `yaml:"-"`

	ActorCacheTTLRaw string `yaml:"actor_cache_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Auth.AuthToken == "" && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth.auth_token or auth.username/auth.password is required")
	}

	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Reconnect.BaseDelayRaw != "" {
		cfg.Reconnect.BaseDelay, err = time.ParseDuration(cfg.Reconnect.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", cfg.Reconnect.BaseDelayRaw, err)
		}
	}

	if cfg.Reconnect.MaxDelayRaw != "" {
		cfg.Reconnect.MaxDelay, err = time.ParseDuration(cfg.Reconnect.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", cfg.Reconnect.MaxDelayRaw, err)
		}
	}

	if cfg.Federation.ActorCacheTTLRaw != "" {
		cfg.Federation.ActorCacheTTL, err = time.ParseDuration(cfg.Federation.ActorCacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing actor_cache_ttl %q: %w", cfg.Federation.ActorCacheTTLRaw, err)
		}
	}

	return nil
}
