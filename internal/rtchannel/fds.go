// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rtchannel implements the reserved-descriptor transfer mesh
// between a fixed group of forked processes, and the poll-based
// readiness multiplexer each process uses to watch its incoming streams.
package rtchannel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MaxRanks is the largest group size the reserved fd formula was designed
// for; it bounds the fd range the launcher must keep clear of its own use.
const MaxRanks = 16

// ReadFD returns the file descriptor number reserved for the read end of
// the unidirectional channel carrying messages from rank i to rank j.
func ReadFD(i, j int) int { return 20 + 2*(MaxRanks*i+j) }

// WriteFD returns the file descriptor number reserved for the write end
// of the channel from rank i to rank j.
func WriteFD(i, j int) int { return ReadFD(i, j) + 1 }

// MaxFD returns the highest reserved fd number used by a mesh of the
// given size, i.e. the fd table must have at least MaxFD+1 entries.
func MaxFD(size int) int {
	if size == 0 {
		return 0
	}
	return WriteFD(size-1, size-1)
}

func closeFD(fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("rtchannel: close fd %d: %w", fd, err)
	}
	return nil
}

// CloseAllTransferFDs closes every reserved transfer descriptor for a mesh
// of the given size. cmd/mimpirun does not use it: the launcher holds its
// pipes under fd numbers of its own and closes them through its own mesh
// bookkeeping.
func CloseAllTransferFDs(size int) error {
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if err := closeFD(ReadFD(i, j)); err != nil {
				return err
			}
			if err := closeFD(WriteFD(i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseForeignTransferFDs closes every descriptor belonging to a pair that
// involves neither rank nor any of its own endpoints, i.e. pairs (i, j)
// where i != rank and j != rank. Called once at Init, before the process
// touches any stream of its own.
func CloseForeignTransferFDs(rank, size int) error {
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if i == rank || j == rank {
				continue
			}
			if err := closeFD(ReadFD(i, j)); err != nil {
				return err
			}
			if err := closeFD(WriteFD(i, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseMyIncomingTransferWriteFDs closes the write end of every channel
// that delivers to this rank (W(i, rank) for i != rank): this process only
// ever reads those streams, never writes them.
func CloseMyIncomingTransferWriteFDs(rank, size int) error {
	for i := 0; i < size; i++ {
		if i == rank {
			continue
		}
		if err := closeFD(WriteFD(i, rank)); err != nil {
			return err
		}
	}
	return nil
}

// CloseMyOutgoingTransferReadFDs closes the read end of every channel this
// rank sends on (R(rank, j) for j != rank): this process only ever writes
// those streams, never reads them.
func CloseMyOutgoingTransferReadFDs(rank, size int) error {
	for j := 0; j < size; j++ {
		if j == rank {
			continue
		}
		if err := closeFD(ReadFD(rank, j)); err != nil {
			return err
		}
	}
	return nil
}

// CloseMyOutgoingTransferWriteFDs closes W(rank, j) for every j, including
// the loopback pair j == rank. Closing these is the signal every peer's
// poll loop sees as a hang-up on this rank's stream, and the loopback entry
// makes this rank's own incoming stream behave the same way as everyone
// else's so the worker's exit accounting stays uniform. Finalize closes the
// same streams through Mesh.CloseOutgoing rather than through this helper.
func CloseMyOutgoingTransferWriteFDs(rank, size int) error {
	for j := 0; j < size; j++ {
		if err := closeFD(WriteFD(rank, j)); err != nil {
			return err
		}
	}
	return nil
}

// CloseMyIncomingTransferReadFDs closes R(i, rank) for every i, including
// the loopback pair. Finalize closes the same descriptors through
// Mesh.CloseIncoming, after the worker has observed every peer (and
// itself) hang up, rather than through this helper.
func CloseMyIncomingTransferReadFDs(rank, size int) error {
	for i := 0; i < size; i++ {
		if err := closeFD(ReadFD(i, rank)); err != nil {
			return err
		}
	}
	return nil
}
