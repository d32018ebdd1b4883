// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRunConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := "detect: true\nsend_throttle_bytes_per_sec: 4096\nlogging:\n  level: debug\n  format: text\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("LoadRunConfig: %v", err)
	}
	if !cfg.Detect {
		t.Error("Detect = false, want true")
	}
	if cfg.ThrottleBytesPerSec != 4096 {
		t.Errorf("ThrottleBytesPerSec = %d, want 4096", cfg.ThrottleBytesPerSec)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want {debug text}", cfg.Logging)
	}
}

func TestLoadRunConfigMissingFile(t *testing.T) {
	if _, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadProcessConfig(t *testing.T) {
	t.Setenv(EnvWorldRank, "2")
	t.Setenv(EnvWorldSize, "4")
	t.Setenv(EnvDetect, "true")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "text")
	t.Setenv(EnvThrottleBPS, "1024")

	cfg, err := LoadProcessConfig()
	if err != nil {
		t.Fatalf("LoadProcessConfig: %v", err)
	}
	if cfg.Rank != 2 || cfg.Size != 4 {
		t.Errorf("Rank/Size = %d/%d, want 2/4", cfg.Rank, cfg.Size)
	}
	if !cfg.Detect || cfg.LogLevel != "debug" || cfg.LogFormat != "text" || cfg.ThrottleBPS != 1024 {
		t.Errorf("cfg = %+v, unexpected", cfg)
	}
}

func TestLoadProcessConfigMissingRank(t *testing.T) {
	t.Setenv(EnvWorldRank, "")
	t.Setenv(EnvWorldSize, "4")
	if _, err := LoadProcessConfig(); err == nil {
		t.Fatal("expected error for missing WORLD_RANK")
	}
}
