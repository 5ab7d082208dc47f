// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

// Backend is the external USB collaborator (bulk-in/out transfers, control
// transfers, device enumeration). Every method here only kicks a request
// off; completion is reported back asynchronously as a Response on the
// inbound response queue, so the event loop never blocks on device I/O.
type Backend interface {
	// Open starts the lower-level open sequence.
	Open() error
	// BulkOpen starts the bulk-in stream open sequence.
	BulkOpen() error
	// Close starts the lower-level close sequence.
	Close() error
	// Send transmits one already-encoded wire frame.
	Send(frame []byte) error
}

// Broker publishes a topic/value message to application subscribers.
type Broker interface {
	Publish(topic string, value interface{})
}
