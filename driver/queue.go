// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver implements the per-device worker: a single-threaded
// cooperative event loop that multiplexes an inbound command queue and an
// inbound response queue, dispatching to the frame codec, stream
// decompressor/reassembly, current-range suppressor, memory-op
// coordinator, and connection state machine.
package driver // import "github.com/go-lpc/jsdrv/driver"

// Command is an application-originated message delivered on the inbound
// command queue, topic already stripped of the device's prefix.
type Command struct {
	Topic string
	Value []byte
}

// Response is a backend-originated message delivered on the inbound
// response queue: a completed USB transfer, an acknowledgement, or a
// decoded status event.
type Response struct {
	Topic   string
	Payload []byte
}

// Well-known response topics the backend uses to report asynchronous
// completions. Anything else on the response queue is treated as raw
// inbound frame data (stream-in-data) and handed to the codec.
const (
	RespStreamInData    = "stream-in-data"
	RespBulkOutData     = "bulk-out-data"
	RespBackendOpenAck  = "backend-open-ack"
	RespBackendOpenNack = "backend-open-nack"
	RespBackendBulkAck  = "backend-bulk-ack"
	RespBackendBulkNack = "backend-bulk-nack"
	RespBackendCloseAck = "backend-close-ack"
)
