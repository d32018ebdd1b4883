// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/nishisan-dev/mimpi-go/internal/config"
	"github.com/nishisan-dev/mimpi-go/internal/rtchannel"
)

// testGroup builds n in-process Contexts wired together over os.Pipe
// pairs, exactly mirroring the topology mimpirun builds over reserved
// descriptors, but without forking real processes. It is how the package
// tests exercise Send/Recv and the collectives.
type testGroup struct {
	t        *testing.T
	contexts []*Context
}

func newTestGroup(t *testing.T, n int, detect bool) *testGroup {
	t.Helper()

	type pipe struct {
		r *os.File
		w *os.File
	}
	pipes := make([][]pipe, n)
	for i := range pipes {
		pipes[i] = make([]pipe, n)
		for j := range pipes[i] {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("os.Pipe: %v", err)
			}
			pipes[i][j] = pipe{r: r, w: w}
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := &testGroup{t: t, contexts: make([]*Context, n)}
	for rank := 0; rank < n; rank++ {
		in := make([]int, n)
		out := make([]*os.File, n)
		for i := 0; i < n; i++ {
			in[i] = int(pipes[i][rank].r.Fd())
		}
		for j := 0; j < n; j++ {
			out[j] = pipes[rank][j].w
		}
		mesh, err := rtchannel.NewLoopbackMesh(rank, n, in, out)
		if err != nil {
			t.Fatalf("NewLoopbackMesh: %v", err)
		}

		cfg := &config.ProcessConfig{Rank: rank, Size: n, Detect: detect}
		c := newContext(cfg, mesh, logger)
		g.contexts[rank] = c
		go c.runWorker()
	}

	t.Cleanup(func() {
		for _, c := range g.contexts {
			c.cancelSend()
		}
	})

	return g
}

func (g *testGroup) finalizeAll() {
	g.t.Helper()
	for _, c := range g.contexts {
		if err := c.mesh.CloseOutgoing(); err != nil {
			g.t.Fatalf("CloseOutgoing: %v", err)
		}
	}
	for _, c := range g.contexts {
		<-c.workerDone
		if err := c.mesh.CloseIncoming(); err != nil {
			g.t.Fatalf("CloseIncoming: %v", err)
		}
	}
}
