// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"bytes"
	"fmt"

	"github.com/nishisan-dev/mimpi-go/internal/rtchannel"
	"github.com/nishisan-dev/mimpi-go/internal/wire"
)

func errStreamFailed(i int) error {
	return fmt.Errorf("mimpi: incoming stream %d reported a poll error", i)
}

// runWorker is the single background dispatcher goroutine each process
// runs for its lifetime: it polls every incoming stream, pulls whole
// frames off whichever ones are readable, and either buffers a data
// message or folds a deadlock probe into the local log, signaling a
// parked Recv whenever its rendezvous key might now be satisfied.
func (c *Context) runWorker() {
	defer close(c.workerDone)

	for {
		states, err := c.poller.Wait()
		if err != nil {
			c.fatal(err)
		}

		done := false
		for i, st := range states {
			switch st {
			case rtchannel.StateReadable:
				c.handleIncoming(i)
			case rtchannel.StateHungUp:
				if c.handleHangup(i) {
					done = true
				}
			case rtchannel.StateError:
				c.fatal(errStreamFailed(i))
			}
		}
		if done {
			return
		}
	}
}

// handleIncoming reads one whole frame off stream i. The read itself runs
// with no lock held, exactly as mimpi.c's handle_incoming_message calls
// read_full before ever touching worker_mutex: a slow or partial payload
// (a throttled sender, a header/payload split across writes) must not
// stall every Send/Recv on the user thread waiting on c.mu.
func (c *Context) handleIncoming(i int) {
	r := c.mesh.IncomingReader(i)
	tag, count, err := wire.ReadFrameHeader(r)
	if err != nil {
		c.fatal(err)
	}
	payload, err := wire.ReadPayload(r, count)
	if err != nil {
		c.fatal(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tag == tagDeadlockProbe {
		probe, err := wire.ReadProbe(bytes.NewReader(payload))
		if err != nil {
			c.fatal(err)
		}
		c.appendProbeReceived(i, probe.Tag, probe.Count)
		c.handleSignalRecv(i)
		return
	}

	c.buffers[i].append(tag, count, payload)
	c.handleSignalRecv(i)
}

// handleHangup records that stream i's peer has closed its outgoing side.
// It returns true once every stream, including the loopback entry to this
// rank's own process, has hung up: that is the worker's exit condition.
func (c *Context) handleHangup(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exited[i] {
		return c.numExited == c.size
	}
	c.exited[i] = true
	c.numExited++
	c.handleSignalRecv(i)
	return c.numExited == c.size
}

// handleSignalRecv re-evaluates the rendezvous slot when it is parked on
// stream i. Must be called with c.mu held.
func (c *Context) handleSignalRecv(i int) {
	if c.slot.source != i {
		return
	}

	if c.detect && !c.deadlock && c.checkDeadlock(i, c.slot.tag, c.slot.count) {
		c.deadlock = true
		c.cond.Broadcast()
		return
	}

	if c.slot.hasMatch {
		return
	}
	if payload := c.buffers[i].takeFirstMatch(c.slot.tag, c.slot.count); payload != nil {
		c.slot.matched = payload
		c.slot.hasMatch = true
		c.cond.Broadcast()
	} else if c.exited[i] {
		c.cond.Broadcast()
	}
}
