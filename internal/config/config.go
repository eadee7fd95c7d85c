// Package config loads the optional tool configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the tool configuration. Every field has a working
// default; the file is optional.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Jaws    JawsConfig    `yaml:"jaws"`
	Retry   RetryConfig   `yaml:"retry"`
	Journal JournalConfig `yaml:"journal"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// JawsConfig contains transport settings for controller requests.
type JawsConfig struct {
	Timeout Duration `yaml:"timeout"`
	// Controllers ship self-signed certificates; verification stays off
	// unless explicitly enabled here or with --verify-tls.
	VerifyTLS bool `yaml:"verify_tls"`
}

// RetryConfig tunes the fixed-delay retry policy.
type RetryConfig struct {
	QueryAttempts   int      `yaml:"query_attempts"`
	CommandAttempts int      `yaml:"command_attempts"`
	Delay           Duration `yaml:"delay"`
}

// JournalConfig contains command-journal settings. An empty path leaves
// the journal disabled.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Jaws.Timeout == 0 {
		c.Jaws.Timeout = Duration(30 * time.Second)
	}
	if c.Retry.QueryAttempts == 0 {
		c.Retry.QueryAttempts = 6
	}
	if c.Retry.CommandAttempts == 0 {
		c.Retry.CommandAttempts = 5
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = Duration(1 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or
// ${VAR:default}.
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
