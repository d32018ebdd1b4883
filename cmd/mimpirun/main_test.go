// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/nishisan-dev/mimpi-go/internal/config"
	"github.com/nishisan-dev/mimpi-go/mimpi"
)

// TestHelperProcess is not a real test: it is re-executed as a child of
// cmd/mimpirun by the tests below, following the standard os/exec test
// pattern of using the test binary itself as the spawned program.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("MIMPIRUN_HELPER") != "1" {
		t.Skip("not running as a mimpirun helper process")
	}
	if err := mimpi.Init(); err != nil {
		os.Stderr.WriteString("init: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer mimpi.Finalize()

	rank := mimpi.WorldRank()
	if err := mimpi.Barrier(); err != nil {
		os.Exit(3)
	}
	os.Exit(rank)
}

func helperArgs(t *testing.T) []string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return []string{exe, "-test.run=TestHelperProcess"}
}

func TestRunLaunchesGroupAndWaitsForExitStatuses(t *testing.T) {
	if testing.Short() {
		t.Skip("forks real child processes")
	}
	t.Setenv("MIMPIRUN_HELPER", "1")

	args := helperArgs(t)
	code, err := run(append([]string{"3"}, args...))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// the greatest rank is 2, and every child exits with its own rank.
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestBuildEnvPropagatesRunConfig(t *testing.T) {
	cfg := &config.RunConfig{Detect: true, ThrottleBytesPerSec: 2048}
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"

	env := buildEnv(4, cfg)
	joined := strings.Join(env, "\n")
	for _, want := range []string{
		"WORLD_SIZE=4",
		"MIMPI_DETECT=true",
		"MIMPI_LOG_LEVEL=debug",
		"MIMPI_LOG_FORMAT=text",
		"MIMPI_THROTTLE_BPS=2048",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("env missing %q", want)
		}
	}
}

func TestParseWorldSizeRejectsOutOfRange(t *testing.T) {
	if _, err := parseWorldSize("0"); err == nil {
		t.Error("expected error for size 0")
	}
	if _, err := parseWorldSize("17"); err == nil {
		t.Error("expected error for size 17")
	}
	if _, err := parseWorldSize("not-a-number"); err == nil {
		t.Error("expected error for non-numeric size")
	}
}

// ensure exec.LookPath resolving the test binary itself behaves as
// expected in this environment, since run() relies on it.
func TestLookPathResolvesOwnExecutable(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	if _, err := exec.LookPath(exe); err != nil {
		t.Skipf("exec.LookPath cannot resolve the test binary in this environment: %v", err)
	}
}

var _ = bytes.MinRead
