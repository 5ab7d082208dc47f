// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"testing"
	"time"
)

func TestSamplerRunStop(t *testing.T) {
	var buf bytes.Buffer
	calls := 0

	s, err := New(&buf, 10*time.Millisecond, func() (int, int) {
		calls++
		return calls, calls * 2
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()

	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-errc:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Stop")
	}

	if calls == 0 {
		t.Fatalf("depth probe was never called")
	}
}
