// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the coordination server's configuration from
// environment variables and, optionally, a YAML file, layering env on top
// of file-based values.
package config

import (
	"fmt"
	"time"
)

// Config is the complete configuration for the coordination server.
type Config struct {
	// RedisURL is the Redis-compatible store connection string.
	RedisURL string

	// HeartbeatTimeout is the TTL applied to each agent's heartbeat key.
	HeartbeatTimeout time.Duration

	// ReaperInterval is how often the heartbeat reaper scans for expired
	// agents.
	ReaperInterval time.Duration

	// FileLockTTL bounds how long an unreleased file lock survives.
	FileLockTTL time.Duration

	// CompletionDir is the directory where completion drop-files are
	// written. It is used as given: a relative path is resolved against the
	// process's working directory, not against a workspace root.
	CompletionDir string

	// RecentChangesLimit bounds the per-project recent-change log.
	RecentChangesLimit int

	// RequestWaitPollInterval is the polling cadence for request/response
	// correlation waits.
	RequestWaitPollInterval time.Duration

	// LogLevel controls the verbosity of internal/logging.
	LogLevel string

	// MetricsAddr, when non-empty, serves /metrics and /health on this
	// address (e.g. ":9090"). Empty disables the debug listener.
	MetricsAddr string
}

// Default returns the coordination server's default configuration.
func Default() *Config {
	return &Config{
		RedisURL:                "redis://localhost:6379",
		HeartbeatTimeout:        120 * time.Second,
		ReaperInterval:          30 * time.Second,
		FileLockTTL:             5 * time.Minute,
		CompletionDir:           "/tmp/splitmind-status",
		RecentChangesLimit:      100,
		RequestWaitPollInterval: 500 * time.Millisecond,
		LogLevel:                "info",
		MetricsAddr:             "",
	}
}

// Validate rejects a configuration that would produce undefined behavior.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis url must not be empty")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}
	if c.FileLockTTL <= 0 {
		return fmt.Errorf("file lock ttl must be positive")
	}
	if c.CompletionDir == "" {
		return fmt.Errorf("completion dir must not be empty")
	}
	if c.RecentChangesLimit <= 0 {
		return fmt.Errorf("recent changes limit must be positive")
	}
	if c.RequestWaitPollInterval <= 0 {
		return fmt.Errorf("request wait poll interval must be positive")
	}
	return nil
}
