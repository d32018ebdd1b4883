// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import "github.com/nishisan-dev/mimpi-go/internal/wire"

// Send transmits data to rank dst tagged with tag. tag must be
// non-negative; the reserved negative tags are for internal use by the
// collectives and the deadlock detector. Send does not block for a
// matching Recv to occur on the far side, only for the bytes to clear
// this process's outgoing stream.
func Send(data []byte, dst, tag int) error {
	c, err := mustContext()
	if err != nil {
		return err
	}
	return c.send(data, dst, int32(tag))
}

func (c *Context) send(data []byte, dst int, tag int32) error {
	if err := c.validatePeer(dst); err != nil {
		return err
	}

	c.mu.Lock()
	exited := c.exited[dst]
	c.mu.Unlock()
	if exited {
		return ErrRemoteFinished
	}

	count := int32(len(data))
	frame := wire.EncodeFrame(tag, count, data)
	if err := fullWrite(c.outgoingWriter(dst), frame); err != nil {
		c.fatal(err)
	}

	if c.detect && tag >= 0 {
		c.mu.Lock()
		c.appendSentMarker(dst, tag, count)
		c.mu.Unlock()
	}
	return nil
}

// Recv blocks until a message tagged tag (or Any) of exactly len(dest)
// bytes has arrived from rank src, copying it into dest, or until src has
// finished, or (when detection is enabled) until the local detector
// concludes this call cannot complete.
func Recv(dest []byte, src, tag int) error {
	c, err := mustContext()
	if err != nil {
		return err
	}
	return c.recv(dest, src, int32(tag))
}

func (c *Context) recv(dest []byte, src int, tag int32) error {
	if err := c.validatePeer(src); err != nil {
		return err
	}
	count := int32(len(dest))

	c.mu.Lock()
	if payload := c.buffers[src].takeFirstMatch(tag, count); payload != nil {
		copy(dest, payload)
		c.mu.Unlock()
		return nil
	}
	if c.exited[src] {
		c.mu.Unlock()
		return ErrRemoteFinished
	}

	// Only detection mode needs to drop the lock here, to send the probe
	// frame without holding c.mu across that write. A message the worker
	// buffers while the lock is down would otherwise have its signal
	// dropped, since c.slot isn't parked on src yet; re-check the buffer
	// immediately after reacquiring, before parking, to close that race.
	if c.detect {
		c.mu.Unlock()
		if err := c.sendProbe(src, tag, count); err != nil {
			c.fatal(err)
		}
		c.mu.Lock()
		if payload := c.buffers[src].takeFirstMatch(tag, count); payload != nil {
			copy(dest, payload)
			c.mu.Unlock()
			return nil
		}
		if c.exited[src] {
			c.mu.Unlock()
			return ErrRemoteFinished
		}
		if !c.deadlock {
			c.deadlock = c.checkDeadlock(src, tag, count)
		}
	}

	c.slot = slotState{source: src, tag: tag, count: count}
	for !c.slot.hasMatch && !c.exited[src] && !c.deadlock {
		c.cond.Wait()
	}
	c.slot.source = -1

	var resultErr error
	switch {
	case c.slot.hasMatch:
		copy(dest, c.slot.matched)
	case c.deadlock:
		resultErr = ErrDeadlockDetected
	default:
		resultErr = ErrRemoteFinished
	}
	c.slot.matched = nil
	c.slot.hasMatch = false
	c.mu.Unlock()

	return resultErr
}
