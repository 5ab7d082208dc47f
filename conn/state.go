// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conn implements the connection state machine that sequences a
// device's lower-level open, link-reset handshake, steady operation, and
// graceful disconnect. The event loop (package driver) is the sole caller:
// the state machine never blocks and never touches device I/O directly,
// instead driving a Sink of side-effecting callbacks.
package conn // import "github.com/go-lpc/jsdrv/conn"

// State is one node of the connection lifecycle.
type State int

const (
	StateNotPresent State = iota
	StateClosed
	StateLLOpen
	StateLLBulkOpen
	StateLinkReset
	StateOpen
	StatePubSubFlush
	StateLinkDisconnect
	StateLLClosePend
	StateLLClose
	StateFinalized
)

//go:generate stringer -type=State

func (s State) String() string {
	switch s {
	case StateNotPresent:
		return "not-present"
	case StateClosed:
		return "closed"
	case StateLLOpen:
		return "ll-open"
	case StateLLBulkOpen:
		return "ll-bulk-open"
	case StateLinkReset:
		return "link-reset"
	case StateOpen:
		return "open"
	case StatePubSubFlush:
		return "pubsub-flush"
	case StateLinkDisconnect:
		return "link-disconnect"
	case StateLLClosePend:
		return "ll-close-pend"
	case StateLLClose:
		return "ll-close"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Event is a stimulus the driver event loop delivers to the state machine.
type Event int

const (
	EvReset Event = iota
	EvAdvance
	EvAPIOpen
	EvAPIClose
	EvBackendOpenAck
	EvBackendOpenNack
	EvBackendBulkAck
	EvBackendBulkNack
	EvBackendCloseAck
	EvLinkResetReq
	EvLinkResetAck
	EvLinkDisconnectAck
	EvTimeout
)

// Sink receives the side effects a state transition requires: enqueuing
// backend operations, sending link-control frames, publishing the pubsub
// flush sentinel, and reporting open/close status back to the application.
type Sink interface {
	BackendOpen()
	BackendBulkOpen()
	BackendClose()
	SendResetRequest()
	SendResetAck()
	SendDisconnectRequest()
	PublishFlushSentinel()
	ReportOpenStatus(status int)
	ReportCloseStatus(status int)
}
