// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the on-the-wire framing used over every
// rank-to-rank transfer stream: a fixed header of (tag, count) followed
// by exactly count bytes of payload, plus the small fixed-size probe
// record used by the deadlock detector.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the size in bytes of a frame header: tag (int32) followed
// by count (int32), both in the platform's native byte order. The two
// ends of a stream are always the same process image forked from the same
// launcher, so there is no cross-architecture concern here.
const HeaderSize = 8

// ProbeRecordSize is the encoded size of a Probe.
const ProbeRecordSize = 4 + 4 + 4 + 1

var order = binary.NativeEndian

// EncodeFrame builds a single contiguous buffer holding the header and the
// payload, so the caller can hand the whole frame to one write call instead
// of issuing a header write followed by a payload write.
func EncodeFrame(tag, count int32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	order.PutUint32(buf[0:4], uint32(tag))
	order.PutUint32(buf[4:8], uint32(count))
	copy(buf[HeaderSize:], payload)
	return buf
}

// ReadFrameHeader reads and decodes a frame header from r.
func ReadFrameHeader(r io.Reader) (tag, count int32, err error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("wire: read frame header: %w", err)
	}
	tag = int32(order.Uint32(hdr[0:4]))
	count = int32(order.Uint32(hdr[4:8]))
	return tag, count, nil
}

// ReadPayload reads exactly count bytes of frame payload from r.
func ReadPayload(r io.Reader, count int32) ([]byte, error) {
	if count == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return buf, nil
}

// Probe is the small record carried inside a deadlock-probe frame. PeerRank
// records the sender's own rank; Tag and Count identify the (tag, count)
// key the sender is blocked waiting to receive.
type Probe struct {
	PeerRank int32
	Tag      int32
	Count    int32
	Marker   byte
}

// EncodeProbe serializes p to its fixed-size wire form.
func EncodeProbe(p Probe) []byte {
	buf := make([]byte, ProbeRecordSize)
	order.PutUint32(buf[0:4], uint32(p.PeerRank))
	order.PutUint32(buf[4:8], uint32(p.Tag))
	order.PutUint32(buf[8:12], uint32(p.Count))
	buf[12] = p.Marker
	return buf
}

// ReadProbe reads and decodes a Probe record from r.
func ReadProbe(r io.Reader) (Probe, error) {
	buf := make([]byte, ProbeRecordSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Probe{}, fmt.Errorf("wire: read probe record: %w", err)
	}
	return Probe{
		PeerRank: int32(order.Uint32(buf[0:4])),
		Tag:      int32(order.Uint32(buf[4:8])),
		Count:    int32(order.Uint32(buf[8:12])),
		Marker:   buf[12],
	}, nil
}
