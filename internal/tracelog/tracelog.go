// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tracelog writes a gzip-compressed, line-oriented postmortem dump
// of the deadlock detector's bounded event log, for offline inspection of
// why the local heuristic did or did not fire.
package tracelog

import (
	"bufio"
	"fmt"
	"os"

	"github.com/klauspost/pgzip"
)

// Entry is one event from the deadlock detector's log, ready to be
// written out in whatever shape the caller wants recorded.
type Entry struct {
	Rank  int
	Peer  int
	Tag   int32
	Count int32
	Kind  string
}

// WriteGzip writes entries as gzip-compressed, newline-delimited text to
// path, one entry per line. It uses pgzip so a large trace from a busy
// group compresses using multiple cores instead of serializing through a
// single gzip stream.
func WriteGzip(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tracelog: create %q: %w", path, err)
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	bw := bufio.NewWriter(gw)

	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "rank=%d peer=%d tag=%d count=%d kind=%s\n",
			e.Rank, e.Peer, e.Tag, e.Count, e.Kind); err != nil {
			gw.Close()
			return fmt.Errorf("tracelog: write entry: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		gw.Close()
		return fmt.Errorf("tracelog: flush: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("tracelog: close gzip writer: %w", err)
	}
	return nil
}
