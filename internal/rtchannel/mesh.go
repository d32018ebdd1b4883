// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rtchannel

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fdReader adapts a raw, blocking file descriptor to io.Reader, retrying
// on EINTR and translating a zero-length read into io.EOF.
type fdReader int

func (f fdReader) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(f), p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Mesh is one process's view of the N-way transfer mesh: N incoming
// streams (by raw fd, read directly via syscalls so the poller can watch
// them) and N outgoing streams (wrapped as *os.File so ordinary io.Writer
// code, including rate limiting, composes over them).
type Mesh struct {
	Rank int
	Size int

	in  []int
	out []*os.File
}

// OpenMeshFromEnv builds the Mesh for a process that inherited the full
// reserved-descriptor table from the launcher's fork. It closes every
// descriptor this rank has no business touching and wraps what remains.
func OpenMeshFromEnv(rank, size int) (*Mesh, error) {
	if err := CloseForeignTransferFDs(rank, size); err != nil {
		return nil, err
	}
	if err := CloseMyIncomingTransferWriteFDs(rank, size); err != nil {
		return nil, err
	}
	if err := CloseMyOutgoingTransferReadFDs(rank, size); err != nil {
		return nil, err
	}

	m := &Mesh{Rank: rank, Size: size, in: make([]int, size), out: make([]*os.File, size)}
	for i := 0; i < size; i++ {
		fd := ReadFD(i, rank)
		if err := unix.SetNonblock(fd, false); err != nil {
			return nil, fmt.Errorf("rtchannel: set incoming stream %d blocking: %w", i, err)
		}
		m.in[i] = fd
	}
	for j := 0; j < size; j++ {
		m.out[j] = os.NewFile(uintptr(WriteFD(rank, j)), fmt.Sprintf("rtchannel-out-%d-%d", rank, j))
	}
	return m, nil
}

// NewLoopbackMesh builds a Mesh directly from already-open descriptors,
// bypassing the reserved fd-number scheme and the associated close dance.
// Used by tests that simulate a group of ranks in a single process over
// os.Pipe pairs instead of forked children. The incoming descriptors are
// forced blocking, same as OpenMeshFromEnv: os.Pipe (and Fd()) can hand
// back a non-blocking fd, and a partial frame would otherwise surface as
// EAGAIN instead of blocking for the rest to arrive.
func NewLoopbackMesh(rank, size int, in []int, out []*os.File) (*Mesh, error) {
	for i, fd := range in {
		if err := unix.SetNonblock(fd, false); err != nil {
			return nil, fmt.Errorf("rtchannel: set incoming stream %d blocking: %w", i, err)
		}
	}
	return &Mesh{Rank: rank, Size: size, in: in, out: out}, nil
}

// IncomingFDs returns the raw incoming descriptors, in rank order, for use
// with a Poller.
func (m *Mesh) IncomingFDs() []int {
	return m.in
}

// IncomingReader returns an io.Reader over the incoming stream from rank i.
func (m *Mesh) IncomingReader(i int) io.Reader {
	return fdReader(m.in[i])
}

// OutgoingWriter returns the io.Writer for the outgoing stream to rank j.
func (m *Mesh) OutgoingWriter(j int) io.Writer {
	return m.out[j]
}

// CloseOutgoing closes every outgoing stream, including the loopback entry
// to this rank itself. This is what turns into a hang-up at every peer's
// (and this rank's own) poller.
func (m *Mesh) CloseOutgoing() error {
	var firstErr error
	for j := 0; j < m.Size; j++ {
		if m.out[j] == nil {
			continue
		}
		if err := m.out[j].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rtchannel: close outgoing stream to rank %d: %w", j, err)
		}
		m.out[j] = nil
	}
	return firstErr
}

// CloseIncoming closes every incoming descriptor, including the loopback
// entry. Called once the worker has observed every stream hang up.
func (m *Mesh) CloseIncoming() error {
	var firstErr error
	for i := 0; i < m.Size; i++ {
		if m.in[i] < 0 {
			continue
		}
		if err := unix.Close(m.in[i]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rtchannel: close incoming stream from rank %d: %w", i, err)
		}
		m.in[i] = -1
	}
	return firstErr
}
