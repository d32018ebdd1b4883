// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"github.com/nishisan-dev/mimpi-go/internal/tracelog"
	"github.com/nishisan-dev/mimpi-go/internal/wire"
)

// logKind distinguishes the two kinds of event the deadlock detector
// tracks against a peer: a probe from that peer announcing that it is
// blocked waiting on a given key from this process (probeRecv), and this
// process having actually sent that peer a matching message since
// (sentMarker), which cancels the suspicion.
type logKind int

const (
	probeRecv logKind = iota
	sentMarker
)

type logEntry struct {
	peer  int
	tag   int32
	count int32
	kind  logKind
}

// appendProbeReceived records that peer announced it is blocked waiting on
// (tag, count) from this process. Must be called with c.mu held.
func (c *Context) appendProbeReceived(peer int, tag, count int32) {
	c.log = append(c.log, logEntry{peer: peer, tag: tag, count: count, kind: probeRecv})
}

// appendSentMarker records that this process has sent peer a message
// matching (tag, count), then prunes the log of the resolved probe/marker
// pair for that key so it does not grow without bound across a long run.
// Must be called with c.mu held.
func (c *Context) appendSentMarker(peer int, tag, count int32) {
	c.log = append(c.log, logEntry{peer: peer, tag: tag, count: count, kind: sentMarker})
	c.pruneResolved(peer, tag, count)
}

func (c *Context) pruneResolved(peer int, tag, count int32) {
	probeIdx := -1
	for i, e := range c.log {
		if e.kind == probeRecv && e.peer == peer && e.tag == tag && e.count == count {
			probeIdx = i
			break
		}
	}
	if probeIdx == -1 {
		return
	}
	c.log = append(c.log[:probeIdx], c.log[probeIdx+1:]...)

	if n := len(c.log); n > 0 {
		last := c.log[n-1]
		if last.kind == sentMarker && last.peer == peer && last.tag == tag && last.count == count {
			c.log = c.log[:n-1]
		}
	}
}

// checkDeadlock reports whether, as of now, this process should conclude
// it cannot make progress: peer announced it is waiting on (tag, count)
// from this process and this process has not sent peer a matching message
// since. This is a local heuristic, not a cycle-wide proof: it only sees
// two ranks each waiting on the other, not longer waits-for cycles.
// Must be called with c.mu held.
func (c *Context) checkDeadlock(peer int, tag, count int32) bool {
	start := -1
	for i, e := range c.log {
		if e.kind == probeRecv && e.peer == peer && e.tag == tag && e.count == count {
			start = i
			break
		}
	}
	if start == -1 {
		return false
	}
	for _, e := range c.log[start+1:] {
		if e.kind == sentMarker && e.peer == peer && e.tag == tag && e.count == count {
			return false
		}
	}
	return true
}

// dumpTrace writes the current deadlock log to c.tracePath as a
// gzip-compressed trace, if a path was configured. Called once, from
// Finalize, after the worker has stopped touching the log.
func (c *Context) dumpTrace() error {
	if c.tracePath == "" {
		return nil
	}
	entries := make([]tracelog.Entry, len(c.log))
	for i, e := range c.log {
		kind := "PROBE_RECV"
		if e.kind == sentMarker {
			kind = "SENT_MARKER"
		}
		entries[i] = tracelog.Entry{Rank: c.rank, Peer: e.peer, Tag: e.tag, Count: e.count, Kind: kind}
	}
	return tracelog.WriteGzip(c.tracePath, entries)
}

// sendProbe transmits a deadlock-probe frame to peer, announcing that this
// process is (about to be) blocked waiting on (tag, count) from it.
func (c *Context) sendProbe(peer int, tag, count int32) error {
	probe := wire.Probe{PeerRank: int32(c.rank), Tag: tag, Count: count}
	body := wire.EncodeProbe(probe)
	frame := wire.EncodeFrame(tagDeadlockProbe, int32(len(body)), body)
	return fullWrite(c.outgoingWriter(peer), frame)
}
