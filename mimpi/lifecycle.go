// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"fmt"

	"github.com/nishisan-dev/mimpi-go/internal/config"
	"github.com/nishisan-dev/mimpi-go/internal/logging"
	"github.com/nishisan-dev/mimpi-go/internal/rtchannel"
	"github.com/nishisan-dev/mimpi-go/internal/sysmon"
)

var (
	globalLogCloser interface{ Close() error }
	globalMonitor   *sysmon.Monitor
)

// Init reads this process's rank and group size (and optional detection,
// logging and throttle knobs) from the environment set by mimpirun, opens
// this rank's view of the transfer mesh, and starts the background
// receive worker. It must be called exactly once per process, before any
// other function in this package, and paired with a later call to
// Finalize.
func Init() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return fmt.Errorf("mimpi: Init called twice")
	}

	cfg, err := config.LoadProcessConfig()
	if err != nil {
		return err
	}
	if cfg.Size < 1 || cfg.Size > rtchannel.MaxRanks {
		return fmt.Errorf("mimpi: world size %d out of supported range [1, %d]", cfg.Size, rtchannel.MaxRanks)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return fmt.Errorf("mimpi: rank %d out of range [0, %d)", cfg.Rank, cfg.Size)
	}

	logger, closer := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "")
	logger = logger.With("rank", cfg.Rank, "size", cfg.Size)

	mesh, err := rtchannel.OpenMeshFromEnv(cfg.Rank, cfg.Size)
	if err != nil {
		closer.Close()
		return err
	}

	c := newContext(cfg, mesh, logger)
	global = c
	globalLogCloser = closer

	monitor := sysmon.New(cfg.Rank, 0, logger)
	monitor.Start()
	globalMonitor = monitor

	logger.Info("mimpi: initialized", "detect", cfg.Detect)
	go c.runWorker()
	return nil
}

// Finalize closes this rank's outgoing streams (which peers, and this
// rank's own worker, observe as a hang-up), waits for the receive worker
// to exit once every stream including the loopback entry has hung up,
// then closes the incoming streams and releases background resources. It
// must be called exactly once, and no other function in this package may
// be called afterward.
func Finalize() error {
	globalMu.Lock()
	c := global
	global = nil
	closer := globalLogCloser
	globalLogCloser = nil
	monitor := globalMonitor
	globalMonitor = nil
	globalMu.Unlock()

	if c == nil {
		return ErrNotInitialized
	}

	c.logger.Info("mimpi: finalizing")
	c.cancelSend()

	if monitor != nil {
		monitor.Stop()
	}

	if err := c.mesh.CloseOutgoing(); err != nil {
		return err
	}
	<-c.workerDone
	if err := c.mesh.CloseIncoming(); err != nil {
		return err
	}

	c.mu.Lock()
	traceErr := c.dumpTrace()
	c.mu.Unlock()
	if traceErr != nil {
		c.logger.Warn("mimpi: failed to write deadlock trace", "error", traceErr)
	}

	if closer != nil {
		closer.Close()
	}
	return nil
}

// WorldRank returns this process's rank in the group, in [0, WorldSize()).
func WorldRank() int {
	c, err := mustContext()
	if err != nil {
		return -1
	}
	return c.rank
}

// WorldSize returns the number of processes in the group.
func WorldSize() int {
	c, err := mustContext()
	if err != nil {
		return -1
	}
	return c.size
}
