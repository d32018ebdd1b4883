// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command mimpirun launches a fixed-size group of copies of a program,
// wired together over the reserved-descriptor transfer mesh the mimpi
// package expects, and waits for all of them to exit.
//
// Usage:
//
//	mimpirun [-config run.yaml] N program [program args...]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/nishisan-dev/mimpi-go/internal/config"
	"github.com/nishisan-dev/mimpi-go/internal/rtchannel"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "mimpirun:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// run does the actual work and returns the exit code this process should
// use on success (the greatest non-zero child exit status, or 0), leaving
// os.Exit to the caller so the launch logic itself stays testable.
func run(args []string) (int, error) {
	fs := flag.NewFlagSet("mimpirun", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML run-config file")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return 0, fmt.Errorf("usage: mimpirun [-config run.yaml] N program [args...]")
	}

	n, err := parseWorldSize(rest[0])
	if err != nil {
		return 0, err
	}
	program := rest[1]
	programArgs := rest[2:]

	var runCfg *config.RunConfig
	if *configPath != "" {
		runCfg, err = config.LoadRunConfig(*configPath)
		if err != nil {
			return 0, err
		}
	}

	programPath, err := exec.LookPath(program)
	if err != nil {
		return 0, fmt.Errorf("mimpirun: resolve program %q: %w", program, err)
	}

	mesh, err := buildMesh(n)
	if err != nil {
		return 0, err
	}

	env := buildEnv(n, runCfg)
	pids := make([]int, n)
	for rank := 0; rank < n; rank++ {
		files := mesh.filesFor(n)
		attr := &syscall.ProcAttr{
			Env:   append(env, fmt.Sprintf("%s=%d", config.EnvWorldRank, rank)),
			Files: files,
			Sys:   &syscall.SysProcAttr{},
		}
		pid, err := syscall.ForkExec(programPath, append([]string{program}, programArgs...), attr)
		if err != nil {
			return 0, fmt.Errorf("mimpirun: fork rank %d: %w", rank, err)
		}
		pids[rank] = pid
	}

	if err := mesh.closeAll(); err != nil {
		return 0, err
	}

	return waitAll(pids)
}

func parseWorldSize(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("mimpirun: invalid world size %q: %w", s, err)
	}
	if n < 1 || n > rtchannel.MaxRanks {
		return 0, fmt.Errorf("mimpirun: world size %d out of supported range [1, %d]", n, rtchannel.MaxRanks)
	}
	return n, nil
}

func buildEnv(n int, runCfg *config.RunConfig) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, fmt.Sprintf("%s=%d", config.EnvWorldSize, n))
	if runCfg == nil {
		return env
	}
	if runCfg.Detect {
		env = append(env, fmt.Sprintf("%s=true", config.EnvDetect))
	}
	if runCfg.Logging.Level != "" {
		env = append(env, fmt.Sprintf("%s=%s", config.EnvLogLevel, runCfg.Logging.Level))
	}
	if runCfg.Logging.Format != "" {
		env = append(env, fmt.Sprintf("%s=%s", config.EnvLogFormat, runCfg.Logging.Format))
	}
	if runCfg.ThrottleBytesPerSec > 0 {
		env = append(env, fmt.Sprintf("%s=%d", config.EnvThrottleBPS, runCfg.ThrottleBytesPerSec))
	}
	return env
}

// mesh holds the parent's view of every pipe in the N*N transfer mesh,
// open under arbitrary fd numbers of the parent's choosing; filesFor
// builds the per-child ProcAttr.Files table that places them at the exact
// reserved fd numbers every rank's mimpi.Init expects.
type mesh struct {
	read  [][]*os.File
	write [][]*os.File
	null  *os.File
}

func buildMesh(n int) (*mesh, error) {
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mimpirun: open %s: %w", os.DevNull, err)
	}

	m := &mesh{
		read:  make([][]*os.File, n),
		write: make([][]*os.File, n),
		null:  null,
	}
	for i := 0; i < n; i++ {
		m.read[i] = make([]*os.File, n)
		m.write[i] = make([]*os.File, n)
		for j := 0; j < n; j++ {
			r, w, err := os.Pipe()
			if err != nil {
				return nil, fmt.Errorf("mimpirun: create pipe (%d,%d): %w", i, j, err)
			}
			m.read[i][j] = r
			m.write[i][j] = w
		}
	}
	return m, nil
}

// filesFor builds the fd table every forked child inherits: stdio at
// 0-2, every reserved transfer descriptor at its exact R(i,j)/W(i,j)
// slot, and the devnull descriptor filling every unused gap in between.
func (m *mesh) filesFor(n int) []uintptr {
	max := rtchannel.MaxFD(n)
	files := make([]uintptr, max+1)
	for i := range files {
		files[i] = m.null.Fd()
	}
	files[0] = os.Stdin.Fd()
	files[1] = os.Stdout.Fd()
	files[2] = os.Stderr.Fd()

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			files[rtchannel.ReadFD(i, j)] = m.read[i][j].Fd()
			files[rtchannel.WriteFD(i, j)] = m.write[i][j].Fd()
		}
	}
	return files
}

// closeAll closes the parent's own copy of every transfer descriptor (and
// the devnull filler), once every child has been forked: the parent has
// no further use for any of them, and a child process exiting its own
// stream should be visible to its peers as a hang-up, not masked by a
// duplicate descriptor still open in the parent.
func (m *mesh) closeAll() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, row := range m.read {
		for _, f := range row {
			record(f.Close())
		}
	}
	for _, row := range m.write {
		for _, f := range row {
			record(f.Close())
		}
	}
	record(m.null.Close())
	return firstErr
}

func waitAll(pids []int) (int, error) {
	worst := 0
	for _, pid := range pids {
		var status syscall.WaitStatus
		if _, err := syscall.Wait4(pid, &status, 0, nil); err != nil {
			return 0, fmt.Errorf("mimpirun: wait for pid %d: %w", pid, err)
		}
		if code := status.ExitStatus(); code > worst {
			worst = code
		}
	}
	return worst, nil
}
