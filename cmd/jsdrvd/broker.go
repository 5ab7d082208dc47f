// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

// deviceBroker implements driver.Broker for one named device, forwarding
// every publish onto the daemon's shared /events output queue, tagged
// with the device's name so a single jsdrv-shell session can tell several
// instruments apart.
type deviceBroker struct {
	name string
	out  chan<- event
}

func (b *deviceBroker) Publish(topic string, value interface{}) {
	select {
	case b.out <- event{Device: b.name, Topic: topic, Value: value}:
	default:
		// Output queue full: the subscriber side is too slow to keep up.
		// Dropping here matches the rest of the driver's treat-pubsub-as-
		// best-effort posture (see dispatchPubSubCommand's gate).
	}
}
