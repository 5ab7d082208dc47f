// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conn

import "strings"

// flushSentinelEcho is the case-insensitive pubsub value the device is
// expected to echo back on the sentinel ping topic before the driver
// proceeds to the link-disconnect handshake.
const flushSentinelEcho = "h|disconnect"

// FSM is the connection state machine. It holds no queues and performs no
// I/O itself; every transition that requires a side effect calls back into
// the Sink supplied at construction. Not safe for concurrent use — the
// owning driver event loop is expected to be the only caller.
type FSM struct {
	state      State
	present    bool
	finalizing bool

	reportCloseOnComplete bool
	closeStatus           int

	sink Sink
}

// New returns an FSM starting in StateClosed, assuming the device is
// present.
func New(sink Sink) *FSM {
	return &FSM{
		state:                 StateClosed,
		present:               true,
		reportCloseOnComplete: true,
		sink:                  sink,
	}
}

// State reports the current state.
func (f *FSM) State() State { return f.state }

// SetPresent updates the device-presence flag consulted by the global
// reset pre-transition rule.
func (f *FSM) SetPresent(present bool) { f.present = present }

// Finalize requests a full shutdown: any open connection is forced
// through a close sequence, landing in StateFinalized instead of
// StateClosed.
func (f *FSM) Finalize() {
	f.finalizing = true
	switch f.state {
	case StateClosed, StateNotPresent:
		f.enter(StateFinalized)
	default:
		f.Handle(EvAPIClose)
	}
}

// PubSubEcho reports an echoed pubsub publish received while the
// connection is open or draining; value is compared case-insensitively
// against the flush sentinel's expected echo. Only meaningful in
// StatePubSubFlush; ignored otherwise.
func (f *FSM) PubSubEcho(value string) {
	if f.state != StatePubSubFlush {
		return
	}
	if !strings.EqualFold(value, flushSentinelEcho) {
		return
	}
	f.enter(StateLinkDisconnect)
}

// Handle delivers ev to the state machine. The global pre-transition rule
// (reset maps to not-present or closed based on device presence) is
// consulted first; the per-state table second.
func (f *FSM) Handle(ev Event) {
	if ev == EvReset {
		if f.present {
			f.enter(StateClosed)
		} else {
			f.enter(StateNotPresent)
		}
		return
	}

	switch f.state {
	case StateNotPresent:
		f.handleNotPresent(ev)
	case StateClosed:
		f.handleClosed(ev)
	case StateLLOpen:
		f.handleOpenSeq(ev, StateLLBulkOpen, EvBackendOpenAck, EvBackendOpenNack)
	case StateLLBulkOpen:
		f.handleOpenSeq(ev, StateLinkReset, EvBackendBulkAck, EvBackendBulkNack)
	case StateLinkReset:
		f.handleLinkReset(ev)
	case StateOpen:
		f.handleOpen(ev)
	case StatePubSubFlush:
		f.handleForceCloseOnly(ev)
	case StateLinkDisconnect:
		f.handleLinkDisconnect(ev)
	case StateLLClosePend:
		f.handleLLClosePend(ev)
	case StateLLClose:
		f.handleLLClose(ev)
	case StateFinalized:
		// terminal; nothing left to process.
	}
}

func (f *FSM) handleNotPresent(ev Event) {
	switch ev {
	case EvAPIOpen:
		f.sink.ReportOpenStatus(1)
	case EvAPIClose:
		f.sink.ReportCloseStatus(1)
	}
}

func (f *FSM) handleClosed(ev Event) {
	if ev == EvAPIOpen {
		f.enter(StateLLOpen)
	}
}

// handleOpenSeq covers the two intermediate handshake states (ll-open,
// ll-bulk-open) that share the same shape: an ack advances to next, a nack
// fails the open, and api-close forces an immediate close.
func (f *FSM) handleOpenSeq(ev Event, next State, ack, nack Event) {
	switch ev {
	case ack:
		f.enter(next)
	case nack:
		f.openFail()
	case EvAPIClose:
		f.forceClose()
	}
}

func (f *FSM) handleLinkReset(ev Event) {
	switch ev {
	case EvLinkResetAck:
		f.openSuccess()
	case EvLinkResetReq:
		f.sink.SendResetAck() // respond without transitioning.
	case EvAPIClose:
		f.forceClose()
	}
}

func (f *FSM) handleOpen(ev Event) {
	if ev == EvAPIClose {
		f.reportCloseOnComplete = true
		f.closeStatus = 0
		f.enter(StatePubSubFlush)
	}
}

// handleForceCloseOnly covers pubsub-flush, whose only Event-driven
// transition is a forced close; the graceful path out of pubsub-flush is
// driven by PubSubEcho, not an Event.
func (f *FSM) handleForceCloseOnly(ev Event) {
	switch ev {
	case EvAPIClose:
		f.forceClose()
	case EvTimeout:
		f.timeoutClose()
	}
}

func (f *FSM) handleLinkDisconnect(ev Event) {
	switch ev {
	case EvLinkDisconnectAck:
		f.enter(StateLLClosePend)
	case EvAPIClose:
		f.forceClose()
	case EvTimeout:
		f.timeoutClose()
	}
}

func (f *FSM) handleLLClosePend(ev Event) {
	switch ev {
	case EvAdvance:
		f.enter(StateLLClose)
	case EvAPIClose:
		f.forceClose()
	case EvTimeout:
		f.timeoutClose()
	}
}

func (f *FSM) handleLLClose(ev Event) {
	if ev == EvBackendCloseAck {
		f.closeComplete()
	}
}

func (f *FSM) openSuccess() {
	f.enter(StateOpen)
}

func (f *FSM) openFail() {
	f.sink.ReportOpenStatus(1)
	f.reportCloseOnComplete = false
	f.enter(StateLLClose)
}

func (f *FSM) forceClose() {
	f.reportCloseOnComplete = true
	f.closeStatus = 0
	f.enter(StateLLClose)
}

func (f *FSM) timeoutClose() {
	f.reportCloseOnComplete = true
	f.closeStatus = 1
	f.enter(StateLLClose)
}

func (f *FSM) closeComplete() {
	if f.finalizing {
		f.enter(StateFinalized)
		return
	}
	if f.reportCloseOnComplete {
		f.sink.ReportCloseStatus(f.closeStatus)
	}
	f.reportCloseOnComplete = true
	f.closeStatus = 0
	f.enter(StateClosed)
}

// enter applies a state's entry side effect and commits it as the current
// state.
func (f *FSM) enter(s State) {
	f.state = s
	switch s {
	case StateLLOpen:
		f.sink.BackendOpen()
	case StateLLBulkOpen:
		f.sink.BackendBulkOpen()
	case StateLinkReset:
		f.sink.SendResetRequest()
	case StateOpen:
		f.sink.ReportOpenStatus(0)
	case StatePubSubFlush:
		f.sink.PublishFlushSentinel()
	case StateLinkDisconnect:
		f.sink.SendDisconnectRequest()
	case StateLLClose:
		f.sink.BackendClose()
	}
}
