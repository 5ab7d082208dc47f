// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"testing"
)

func TestParseLine(t *testing.T) {
	for _, tc := range []struct {
		name   string
		text   string
		device string
		want   request
	}{
		{"bare verb", "!open", "dev0", request{Device: "dev0", Topic: "!open"}},
		{
			"topic with value",
			"h/link/!ping h|disconnect",
			"dev0",
			request{Device: "dev0", Topic: "h/link/!ping", Value: []byte("h|disconnect")},
		},
		{
			"value with embedded spaces",
			"h/cfg/serial JS220-1234 extra",
			"dev0",
			request{Device: "dev0", Topic: "h/cfg/serial", Value: []byte("JS220-1234 extra")},
		},
		{
			"device override",
			"@dev1 !close",
			"dev0",
			request{Device: "dev1", Topic: "!close"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseLine(tc.text, tc.device)
			if err != nil {
				t.Fatalf("parseLine(%q): %+v", tc.text, err)
			}
			if got.Device != tc.want.Device || got.Topic != tc.want.Topic || !bytes.Equal(got.Value, tc.want.Value) {
				t.Fatalf("parseLine(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, text := range []string{"", "   ", "@dev1"} {
		if _, err := parseLine(text, "dev0"); err == nil {
			t.Fatalf("parseLine(%q): expected an error", text)
		}
	}
}
