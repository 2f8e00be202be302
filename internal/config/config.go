// ABOUTME: Configuration loading and parsing for courierd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete courierd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Messaging MessagingConfig `yaml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MessagingConfig holds message-path limits and retry tuning
type MessagingConfig struct {
	MaxMessageLength int `yaml:"max_message_length"`
	HistoryLimit     int `yaml:"history_limit"`
	RetryAttempts    int `yaml:"retry_attempts"`

	RetryBackoff time.Duration `yaml:"-"`
	ProfileTTL   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryBackoffRaw string `yaml:"retry_backoff"`
	ProfileTTLRaw   string `yaml:"profile_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are unset.
const (
	DefaultMaxMessageLength = 4000
	DefaultHistoryLimit     = 200
	DefaultRetryAttempts    = 3
	DefaultRetryBackoff     = 50 * time.Millisecond
	DefaultProfileTTL       = 15 * time.Minute
)

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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Messaging.MaxMessageLength < 0 {
		return fmt.Errorf("messaging.max_message_length must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Messaging.MaxMessageLength == 0 {
		c.Messaging.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Messaging.HistoryLimit == 0 {
		c.Messaging.HistoryLimit = DefaultHistoryLimit
	}
	if c.Messaging.RetryAttempts == 0 {
		c.Messaging.RetryAttempts = DefaultRetryAttempts
	}
	if c.Messaging.RetryBackoff == 0 {
		c.Messaging.RetryBackoff = DefaultRetryBackoff
	}
	if c.Messaging.ProfileTTL == 0 {
		c.Messaging.ProfileTTL = DefaultProfileTTL
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Messaging.RetryBackoffRaw != "" {
		cfg.Messaging.RetryBackoff, err = time.ParseDuration(cfg.Messaging.RetryBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff %q: %w", cfg.Messaging.RetryBackoffRaw, err)
		}
	}

	if cfg.Messaging.ProfileTTLRaw != "" {
		cfg.Messaging.ProfileTTL, err = time.ParseDuration(cfg.Messaging.ProfileTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing profile_ttl %q: %w", cfg.Messaging.ProfileTTLRaw, err)
		}
	}

	return nil
}
