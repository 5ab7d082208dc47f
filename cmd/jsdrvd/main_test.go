// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/go-lpc/jsdrv/suppress"
)

func TestSuppressMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want suppress.Mode
	}{
		{"off", suppress.ModeOff},
		{"nan", suppress.ModeNaN},
		{"interp", suppress.ModeInterp},
		{"bogus", suppress.ModeOff},
		{"", suppress.ModeOff},
	} {
		if got := suppressMode(tc.in); got != tc.want {
			t.Errorf("suppressMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSuppressMatrix(t *testing.T) {
	if got := suppressMatrix("aggressive"); got != &suppress.MatrixAggressive {
		t.Errorf("suppressMatrix(%q) did not return the aggressive matrix", "aggressive")
	}
	for _, in := range []string{"conservative", "bogus", ""} {
		if got := suppressMatrix(in); got != &suppress.MatrixConservative {
			t.Errorf("suppressMatrix(%q) did not return the conservative matrix", in)
		}
	}
}

func TestQueueDepthSumsBackends(t *testing.T) {
	srv := &server{backend: map[string]*debugBackend{
		"a": {name: "a"},
		"b": {name: "b"},
	}}
	srv.backend["a"].sent = 3
	srv.backend["b"].sent = 4

	cmd, resp := srv.queueDepth()
	if cmd != 7 {
		t.Fatalf("queueDepth cmd = %d, want 7", cmd)
	}
	if resp != 0 {
		t.Fatalf("queueDepth resp = %d, want 0", resp)
	}
}
