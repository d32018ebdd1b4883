// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rtchannel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StreamState is the per-stream outcome of a single Poller.Wait call.
type StreamState int

const (
	// StateNone means the stream had nothing to report this wakeup.
	StateNone StreamState = iota
	// StateReadable means at least one byte is available to read; it may
	// be only part of a frame, whose rest a blocking read then waits for.
	StateReadable
	// StateHungUp means the peer has closed its end of the stream.
	StateHungUp
	// StateError means the stream is unusable; the worker treats this as
	// a fatal, unrecoverable condition.
	StateError
)

// Poller wraps unix.Poll over a fixed set of incoming file descriptors,
// the readiness multiplexer the receive worker blocks on.
type Poller struct {
	fds []unix.PollFd
}

// NewPoller builds a Poller watching fds for readability.
func NewPoller(fds []int) *Poller {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	return &Poller{fds: pfds}
}

// Wait blocks until at least one stream changes state, then returns the
// state of every stream for this wakeup, in the same order as NewPoller's
// fds argument. A stream with nothing to report this wakeup reports
// StateNone.
func (p *Poller) Wait() ([]StreamState, error) {
	for {
		_, err := unix.Poll(p.fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rtchannel: poll: %w", err)
		}
		break
	}

	states := make([]StreamState, len(p.fds))
	for i := range p.fds {
		revents := p.fds[i].Revents
		switch {
		case revents&unix.POLLIN != 0:
			states[i] = StateReadable
		case revents&(unix.POLLERR|unix.POLLNVAL) != 0:
			states[i] = StateError
		case revents&unix.POLLHUP != 0:
			states[i] = StateHungUp
		default:
			states[i] = StateNone
		}
		p.fds[i].Revents = 0
	}
	return states, nil
}
