// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command mimpi-demo is a small multi-operation example meant to be run
// under mimpirun: it exercises a ring of point-to-point sends, then a
// barrier, a broadcast and a sum reduction across the whole group, and
// prints what it observed on each rank.
package main

import (
	"fmt"
	"os"

	"github.com/nishisan-dev/mimpi-go/mimpi"
)

func main() {
	if err := mimpi.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "mimpi-demo: init:", err)
		os.Exit(1)
	}
	defer mimpi.Finalize()

	rank := mimpi.WorldRank()
	size := mimpi.WorldSize()

	if err := ring(rank, size); err != nil {
		fail(rank, "ring", err)
	}
	if err := mimpi.Barrier(); err != nil {
		fail(rank, "barrier", err)
	}
	if err := broadcast(rank); err != nil {
		fail(rank, "bcast", err)
	}
	if err := sumReduce(rank, size); err != nil {
		fail(rank, "reduce", err)
	}
}

// ring has every rank send its own rank number to its right-hand neighbor
// and receive its left-hand neighbor's, wrapping around at the ends.
func ring(rank, size int) error {
	next := (rank + 1) % size
	prev := (rank - 1 + size) % size

	if err := mimpi.Send([]byte{byte(rank)}, next, 1); err != nil {
		return err
	}
	buf := make([]byte, 1)
	if err := mimpi.Recv(buf, prev, 1); err != nil {
		return err
	}
	fmt.Printf("rank %d: received %d from rank %d\n", rank, buf[0], prev)
	return nil
}

func broadcast(rank int) error {
	data := make([]byte, 4)
	if rank == 0 {
		copy(data, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	}
	if err := mimpi.Bcast(data, 0); err != nil {
		return err
	}
	fmt.Printf("rank %d: bcast data = % x\n", rank, data)
	return nil
}

func sumReduce(rank, size int) error {
	send := []byte{byte(rank + 1)}
	var recv []byte
	if rank == 0 {
		recv = make([]byte, 1)
	}
	if err := mimpi.Reduce(send, recv, mimpi.Sum, 0); err != nil {
		return err
	}
	if rank == 0 {
		fmt.Printf("rank 0: sum of 1..%d = %d\n", size, recv[0])
	}
	return nil
}

func fail(rank int, stage string, err error) {
	fmt.Fprintf(os.Stderr, "rank %d: %s: %v\n", rank, stage, err)
	os.Exit(1)
}
