// Package config loads dyschord's server configuration. The file format is
// plain JSON, following original_source/dyschord/server.py's
// json.load(open(options.conf)) — the specification leaves the format
// unspecified, and the original implementation resolves that ambiguity.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the recognized server configuration keys.
type Config struct {
	Port         int      `json:"port"`
	NodeID       string   `json:"node_id"` // decimal string; empty => random
	CloudMembers []string `json:"cloud_members"`
	Metric       string   `json:"metric"` // "md5" or "trivial"
	Heartbeat    int      `json:"heartbeat"` // seconds
	LogRequests  bool     `json:"log_requests"`
	ProxyVerbose bool     `json:"proxy_verbose"`
	LogConfig    string   `json:"-"` // path to a LogConfig JSON file, CLI-only
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:      10000,
		Metric:    "md5",
		Heartbeat: 10,
	}
}

// Load reads and parses a JSON configuration file, starting from Default()
// so a partial file only overrides the keys it sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration errors that would otherwise surface as
// confusing failures deep in bring-up.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.Metric {
	case "md5", "trivial":
	default:
		return fmt.Errorf("config: unrecognized metric %q", c.Metric)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("config: heartbeat must be positive, got %d", c.Heartbeat)
	}
	return nil
}

// FileSinkConfig configures a rotated log file (lumberjack).
type FileSinkConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// LogConfig configures the zap logging sink. Pointed to by --log-config;
// an adaptation of that flag (originally a logging.config.fileConfig ini
// file) to this repo's zap-based logging backend.
type LogConfig struct {
	Level    string         `json:"level"`    // debug|info|warn|error
	Encoding string         `json:"encoding"` // console|json
	Mode     string         `json:"mode"`     // stdout|file
	File     FileSinkConfig `json:"file"`
}

// DefaultLogConfig is used when --log-config is not given.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Encoding: "console", Mode: "stdout"}
}

// LoadLogConfig reads a LogConfig JSON file.
func LoadLogConfig(path string) (LogConfig, error) {
	cfg := DefaultLogConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read log config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse log config %s: %w", path, err)
	}
	return cfg, nil
}
