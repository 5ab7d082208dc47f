// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "testing"

func TestDeviceBrokerPublishTagsDevice(t *testing.T) {
	out := make(chan event, 1)
	b := &deviceBroker{name: "dev7", out: out}

	b.Publish("h/i/!data", 3.5)

	select {
	case ev := <-out:
		if ev.Device != "dev7" || ev.Topic != "h/i/!data" || ev.Value != 3.5 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected an event on the output channel")
	}
}

func TestDeviceBrokerPublishDropsWhenFull(t *testing.T) {
	out := make(chan event, 1)
	out <- event{Device: "x", Topic: "already-queued"}
	b := &deviceBroker{name: "dev0", out: out}

	b.Publish("h/link/!ping", nil)

	ev := <-out
	if ev.Topic != "already-queued" {
		t.Fatalf("expected the original queued event to survive, got %+v", ev)
	}
}
