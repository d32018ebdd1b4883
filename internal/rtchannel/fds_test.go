// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rtchannel

import "testing"

func TestReadWriteFDFormula(t *testing.T) {
	cases := []struct {
		i, j       int
		wantRead   int
		wantWrite  int
	}{
		{0, 0, 20, 21},
		{0, 1, 22, 23},
		{1, 0, 52, 53},
		{15, 15, 20 + 2*(16*15+15), 20 + 2*(16*15+15) + 1},
	}
	for _, c := range cases {
		if got := ReadFD(c.i, c.j); got != c.wantRead {
			t.Errorf("ReadFD(%d,%d) = %d, want %d", c.i, c.j, got, c.wantRead)
		}
		if got := WriteFD(c.i, c.j); got != c.wantWrite {
			t.Errorf("WriteFD(%d,%d) = %d, want %d", c.i, c.j, got, c.wantWrite)
		}
	}
}

func TestMaxFD(t *testing.T) {
	if got, want := MaxFD(1), WriteFD(0, 0); got != want {
		t.Errorf("MaxFD(1) = %d, want %d", got, want)
	}
	if got, want := MaxFD(16), WriteFD(15, 15); got != want {
		t.Errorf("MaxFD(16) = %d, want %d", got, want)
	}
}
