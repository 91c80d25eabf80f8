// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config but with string-typed durations, since YAML has
// no native duration type.
type fileConfig struct {
	RedisURL                string `yaml:"redis_url"`
	HeartbeatTimeout        string `yaml:"heartbeat_timeout"`
	ReaperInterval          string `yaml:"reaper_interval"`
	FileLockTTL             string `yaml:"file_lock_ttl"`
	CompletionDir           string `yaml:"completion_dir"`
	RecentChangesLimit      int    `yaml:"recent_changes_limit"`
	RequestWaitPollInterval string `yaml:"request_wait_poll_interval"`
	LogLevel                string `yaml:"log_level"`
	MetricsAddr             string `yaml:"metrics_addr"`
}

// Load builds a Config from environment variables, optionally layering a
// YAML config file underneath them. path may be empty, in which case only
// defaults + environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML config file's values onto cfg. A missing file is
// not an error — defaults simply stand.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.RedisURL != "" {
		c.RedisURL = fc.RedisURL
	}
	if fc.CompletionDir != "" {
		c.CompletionDir = fc.CompletionDir
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.MetricsAddr != "" {
		c.MetricsAddr = fc.MetricsAddr
	}
	if fc.RecentChangesLimit > 0 {
		c.RecentChangesLimit = fc.RecentChangesLimit
	}
	if d, err := parseDurationField("heartbeat_timeout", fc.HeartbeatTimeout); err != nil {
		return err
	} else if d > 0 {
		c.HeartbeatTimeout = d
	}
	if d, err := parseDurationField("reaper_interval", fc.ReaperInterval); err != nil {
		return err
	} else if d > 0 {
		c.ReaperInterval = d
	}
	if d, err := parseDurationField("file_lock_ttl", fc.FileLockTTL); err != nil {
		return err
	} else if d > 0 {
		c.FileLockTTL = d
	}
	if d, err := parseDurationField("request_wait_poll_interval", fc.RequestWaitPollInterval); err != nil {
		return err
	} else if d > 0 {
		c.RequestWaitPollInterval = d
	}

	return nil
}

func parseDurationField(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// loadEnv applies environment variable overrides, which always win over the
// file and defaults.
func (c *Config) loadEnv() error {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	if v := os.Getenv("HEARTBEAT_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HEARTBEAT_TIMEOUT: %w", err)
		}
		c.HeartbeatTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("FILE_LOCK_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FILE_LOCK_TTL: %w", err)
		}
		c.FileLockTTL = d
	}

	if v := os.Getenv("MCP_COMPLETION_DIR"); v != "" {
		c.CompletionDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}

	return nil
}
