// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config provides the two configuration layers used by this
// repository: an optional YAML run-config read once by mimpirun, and the
// environment-derived per-process config every rank reads at Init.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoggingConfig holds the default logging level and format propagated to
// every forked rank unless overridden by its own environment.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RunConfig is the optional file mimpirun reads via -config.
type RunConfig struct {
	Logging             LoggingConfig `yaml:"logging"`
	Detect               bool         `yaml:"detect"`
	ThrottleBytesPerSec  int64        `yaml:"send_throttle_bytes_per_sec"`
}

// LoadRunConfig reads and parses a RunConfig from path.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read run config %q: %w", path, err)
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse run config %q: %w", path, err)
	}
	return &cfg, nil
}

// Env var names read by every rank process at Init.
const (
	EnvWorldRank   = "WORLD_RANK"
	EnvWorldSize   = "WORLD_SIZE"
	EnvDetect      = "MIMPI_DETECT"
	EnvLogLevel    = "MIMPI_LOG_LEVEL"
	EnvLogFormat   = "MIMPI_LOG_FORMAT"
	EnvThrottleBPS = "MIMPI_THROTTLE_BPS"
	EnvTracePath   = "MIMPI_TRACE_PATH"
)

// ProcessConfig is what a single rank process reads from its environment
// at Init, set by the launcher from the command line and an optional
// RunConfig.
type ProcessConfig struct {
	Rank        int
	Size        int
	Detect      bool
	LogLevel    string
	LogFormat   string
	ThrottleBPS int64
	TracePath   string
}

// LoadProcessConfig reads a ProcessConfig from the current process's
// environment.
func LoadProcessConfig() (*ProcessConfig, error) {
	rank, err := envInt(EnvWorldRank)
	if err != nil {
		return nil, err
	}
	size, err := envInt(EnvWorldSize)
	if err != nil {
		return nil, err
	}

	cfg := &ProcessConfig{
		Rank:      rank,
		Size:      size,
		LogLevel:  "info",
		LogFormat: "json",
	}

	if v := os.Getenv(EnvDetect); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s=%q: %w", EnvDetect, v, err)
		}
		cfg.Detect = b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(EnvThrottleBPS); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s=%q: %w", EnvThrottleBPS, v, err)
		}
		cfg.ThrottleBPS = n
	}
	if v := os.Getenv(EnvTracePath); v != "" {
		cfg.TracePath = v
	}

	return cfg, nil
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, fmt.Errorf("config: required environment variable %s not set", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s=%q: %w", name, v, err)
	}
	return n, nil
}
