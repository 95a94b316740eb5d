package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Network   NetworkConfig
	Emulation EmulationConfig
	Scripting ScriptingConfig
	Profile   ProfileConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"LOG_FILE"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// NetworkConfig holds engine request settings.
type NetworkConfig struct {
	UserAgent    string        `envconfig:"NET_USER_AGENT" default:"netcore/1.0"`
	Timeout      time.Duration `envconfig:"NET_TIMEOUT" default:"30s"`
	MaxRedirects int           `envconfig:"NET_MAX_REDIRECTS" default:"20"`
}

// EmulationConfig selects network conditions applied at startup.
// Preset wins over the individual values.
type EmulationConfig struct {
	Preset             string        `envconfig:"EMULATE_PRESET"`
	Offline            bool          `envconfig:"EMULATE_OFFLINE" default:"false"`
	Latency            time.Duration `envconfig:"EMULATE_LATENCY" default:"0s"`
	DownloadThroughput float64       `envconfig:"EMULATE_DOWNLOAD_BPS" default:"0"`
	UploadThroughput   float64       `envconfig:"EMULATE_UPLOAD_BPS" default:"0"`
}

// Enabled reports whether any emulation was requested.
func (e EmulationConfig) Enabled() bool {
	return e.Preset != "" || e.Offline || e.Latency > 0 || e.DownloadThroughput > 0 || e.UploadThroughput > 0
}

// ScriptingConfig holds scripting host configuration.
type ScriptingConfig struct {
	Path    string        `envconfig:"SCRIPT_PATH"`
	Timeout time.Duration `envconfig:"SCRIPT_TIMEOUT" default:"5s"`
	Console bool          `envconfig:"SCRIPT_CONSOLE" default:"true"`
}

// ProfileConfig points at an optional shell profile file.
type ProfileConfig struct {
	Path string `envconfig:"SHELL_PROFILE"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Network: NetworkConfig{
			UserAgent:    "netcore/1.0",
			Timeout:      30 * time.Second,
			MaxRedirects: 20,
		},
		Scripting: ScriptingConfig{
			Timeout: 5 * time.Second,
			Console: true,
		},
	}
}
