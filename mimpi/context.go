// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package mimpi implements a fixed-size message-passing runtime for a
// group of cooperating processes forked by cmd/mimpirun: point-to-point
// Send/Recv matched by (tag, count), the Barrier/Bcast/Reduce collectives
// over an implicit binary heap tree, and an optional, best-effort local
// deadlock detector.
package mimpi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/mimpi-go/internal/config"
	"github.com/nishisan-dev/mimpi-go/internal/rtchannel"
)

// slotState describes the rendezvous slot a blocked Recv parks its request
// in, so the receive worker can deliver a match (or a deadlock verdict)
// asynchronously.
type slotState struct {
	source   int
	tag      int32
	count    int32
	matched  []byte
	hasMatch bool
}

// Context holds all per-process runtime state. Exactly one exists per
// process, created by Init and torn down by Finalize; the package-level
// functions operate on it through the global singleton.
type Context struct {
	rank, size int
	detect     bool

	mesh   *rtchannel.Mesh
	poller *rtchannel.Poller

	mu   sync.Mutex
	cond *sync.Cond

	buffers []*pendingBuffer
	exited  []bool
	numExited int

	slot     slotState
	deadlock bool
	log      []logEntry

	parent int
	left, right int

	logger *slog.Logger

	throttleBPS int64
	sendCtx     context.Context
	cancelSend  context.CancelFunc

	tracePath string

	workerDone chan struct{}
}

var (
	globalMu sync.Mutex
	global   *Context
)

func newContext(cfg *config.ProcessConfig, mesh *rtchannel.Mesh, logger *slog.Logger) *Context {
	c := &Context{
		rank:        cfg.Rank,
		size:        cfg.Size,
		detect:      cfg.Detect,
		mesh:        mesh,
		poller:      rtchannel.NewPoller(mesh.IncomingFDs()),
		buffers:     make([]*pendingBuffer, cfg.Size),
		exited:      make([]bool, cfg.Size),
		logger:      logger,
		throttleBPS: cfg.ThrottleBPS,
		tracePath:   cfg.TracePath,
		workerDone:  make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.slot.source = -1
	for i := range c.buffers {
		c.buffers[i] = &pendingBuffer{}
	}
	c.parent = (cfg.Rank - 1) / 2
	c.left = 2*cfg.Rank + 1
	c.right = 2*cfg.Rank + 2
	c.sendCtx, c.cancelSend = context.WithCancel(context.Background())
	return c
}

func mustContext() (*Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil, ErrNotInitialized
	}
	return global, nil
}

// children returns this rank's children in the implicit binary heap tree,
// in the order {left, right}, omitting any index out of range.
func (c *Context) children() []int {
	kids := make([]int, 0, 2)
	if c.left < c.size {
		kids = append(kids, c.left)
	}
	if c.right < c.size {
		kids = append(kids, c.right)
	}
	return kids
}

func (c *Context) validatePeer(rank int) error {
	if rank < 0 || rank >= c.size {
		return ErrNoSuchRank
	}
	if rank == c.rank {
		return ErrSelfOp
	}
	return nil
}

// outgoingWriter returns the writer Send should use for dst, wrapped with
// the rate limiter when a throttle has been configured.
func (c *Context) outgoingWriter(dst int) io.Writer {
	w := c.mesh.OutgoingWriter(dst)
	if c.throttleBPS <= 0 {
		return w
	}
	return newThrottledWriter(c.sendCtx, w, c.throttleBPS)
}

func fullWrite(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// fatal logs and panics on conditions the spec treats as unrecoverable
// process-level errors (a broken channel primitive outside of an expected
// hang-up). The launcher observes this as a non-zero exit status.
func (c *Context) fatal(err error) {
	c.logger.Error("fatal runtime error", "error", err)
	panic(fmt.Errorf("mimpi: fatal: %w", err))
}
