// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"time"

	"github.com/go-lpc/jsdrv/alert"
	"github.com/go-lpc/jsdrv/calib"
	"github.com/go-lpc/jsdrv/stream"
	"github.com/go-lpc/jsdrv/suppress"
)

// Option configures a Device at construction time.
type Option func(*Device)

// WithQueueSize sets the buffered capacity of the inbound command and
// response channels.
func WithQueueSize(cmdSize, respSize int) Option {
	return func(d *Device) {
		d.cmdQ = make(chan Command, cmdSize)
		d.respQ = make(chan Response, respSize)
	}
}

// WithQueueWait overrides the 5-second ceiling the event loop blocks on
// while waiting for either queue to become non-empty.
func WithQueueWait(d time.Duration) Option {
	return func(dev *Device) { dev.queueWait = d }
}

// WithPortMap overrides the default stream port table.
func WithPortMap(m map[int]stream.Port) Option {
	return func(d *Device) { d.portMap = m }
}

// WithSuppressor attaches a current-range suppressor (older-generation
// devices only); nil (the default) disables suppression entirely.
func WithSuppressor(p *suppress.Processor) Option {
	return func(d *Device) { d.suppressor = p }
}

// WithMemOp sizes the memory-op coordinator's write chunk and window.
func WithMemOp(chunkSize, bufferSize int) Option {
	return func(d *Device) {
		d.chunkSize = chunkSize
		d.bufferSize = bufferSize
	}
}

// WithCalib records an optional calibration store on the Device. The Device
// does not read from it; samples are converted only once a Calibration is
// installed with SetCalibration.
func WithCalib(store *calib.Store) Option {
	return func(d *Device) { d.calib = store }
}

// WithMailer attaches an optional operational alert mailer.
func WithMailer(m *alert.Mailer) Option {
	return func(d *Device) { d.mailer = m }
}

// WithTimeouts overrides the per-state handshake timeouts recommended by
// the design notes (1s each).
func WithTimeouts(pubsubFlush, linkDisconnect, llClosePend time.Duration) Option {
	return func(d *Device) {
		d.timeouts[stateTimeoutPubSubFlush] = pubsubFlush
		d.timeouts[stateTimeoutLinkDisconnect] = linkDisconnect
		d.timeouts[stateTimeoutLLClosePend] = llClosePend
	}
}
