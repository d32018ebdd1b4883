// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mimpi

import (
	"sync"
	"testing"
)

func TestBarrierReleasesEveryRankTogether(t *testing.T) {
	const n = 5
	g := newTestGroup(t, n, false)
	defer g.finalizeAll()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		c := g.contexts[i]
		go func() {
			defer wg.Done()
			if err := c.barrier(); err != nil {
				t.Errorf("barrier: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestBcastDeliversRootDataToEveryRank(t *testing.T) {
	const n = 6
	const root = 3
	g := newTestGroup(t, n, false)
	defer g.finalizeAll()

	var wg sync.WaitGroup
	wg.Add(n)
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		c := g.contexts[i]
		idx := i
		data := make([]byte, 4)
		if idx == root {
			copy(data, []byte{1, 2, 3, 4})
		}
		go func() {
			defer wg.Done()
			if err := c.bcast(data, root); err != nil {
				t.Errorf("bcast rank %d: %v", idx, err)
				return
			}
			results[idx] = data
		}()
	}
	wg.Wait()

	for i, r := range results {
		if string(r) != string([]byte{1, 2, 3, 4}) {
			t.Errorf("rank %d data = %v, want [1 2 3 4]", i, r)
		}
	}
}

func TestBcastFromNonZeroRoot(t *testing.T) {
	const n = 4
	const root = 1
	g := newTestGroup(t, n, false)
	defer g.finalizeAll()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		c := g.contexts[i]
		idx := i
		data := make([]byte, 2)
		if idx == root {
			copy(data, []byte{9, 9})
		}
		go func() {
			defer wg.Done()
			if err := c.bcast(data, root); err != nil {
				t.Errorf("bcast rank %d: %v", idx, err)
				return
			}
			if data[0] != 9 || data[1] != 9 {
				t.Errorf("rank %d data = %v, want [9 9]", idx, data)
			}
		}()
	}
	wg.Wait()
}

func TestReduceSumAtRankZero(t *testing.T) {
	const n = 5
	g := newTestGroup(t, n, false)
	defer g.finalizeAll()

	var wg sync.WaitGroup
	wg.Add(n)
	recvBufs := make([][]byte, n)
	for i := 0; i < n; i++ {
		c := g.contexts[i]
		idx := i
		send := []byte{byte(idx + 1)}
		var recv []byte
		if idx == 0 {
			recv = make([]byte, 1)
		}
		go func() {
			defer wg.Done()
			if err := c.reduce(send, recv, Sum, 0); err != nil {
				t.Errorf("reduce rank %d: %v", idx, err)
				return
			}
			recvBufs[idx] = recv
		}()
	}
	wg.Wait()

	want := byte(1 + 2 + 3 + 4 + 5)
	if got := recvBufs[0][0]; got != want {
		t.Errorf("reduced sum = %d, want %d", got, want)
	}
}

func TestReduceMaxAtNonZeroRoot(t *testing.T) {
	const n = 4
	const root = 2
	g := newTestGroup(t, n, false)
	defer g.finalizeAll()

	var wg sync.WaitGroup
	wg.Add(n)
	recvBufs := make([][]byte, n)
	values := []byte{10, 50, 7, 30}
	for i := 0; i < n; i++ {
		c := g.contexts[i]
		idx := i
		send := []byte{values[idx]}
		var recv []byte
		if idx == root {
			recv = make([]byte, 1)
		}
		go func() {
			defer wg.Done()
			if err := c.reduce(send, recv, Max, root); err != nil {
				t.Errorf("reduce rank %d: %v", idx, err)
				return
			}
			recvBufs[idx] = recv
		}()
	}
	wg.Wait()

	if got := recvBufs[root][0]; got != 50 {
		t.Errorf("reduced max at root = %d, want 50", got)
	}
}
