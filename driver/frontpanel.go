// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"encoding/binary"
	"math"

	"github.com/go-lpc/jsdrv/suppress"
)

// Front-panel port ids carrying the current/voltage/power/current-range
// quartet a configured suppressor operates on. Defined in terms of the
// default port map; a caller supplying a different WithPortMap table with
// different ids disables suppression wiring entirely (handleTraceFrame
// falls back to unsuppressed per-port reassembly for every port).
const (
	portCurrent      = 16
	portVoltage      = 17
	portPower        = 18
	portCurrentRange = 19
)

// feedFrontPanel routes one decoded front-panel port payload through the
// current-range suppressor. Voltage arrivals only update the latched
// voltage the suppressor combines with each current sample; power arrivals
// are dropped, since power is recomputed from current and voltage;
// current-range arrivals both update the latched range and pass straight
// through to their own reassembler unsuppressed (§4.3 never replaces the
// range value itself, only the quantities measured around its
// transitions). Current arrivals are where Process actually runs, one
// input sample at a time, publishing the delayed, possibly-replaced
// current/voltage/power triple.
func (d *Device) feedFrontPanel(portID int, sampleID uint32, elems []byte) {
	switch portID {
	case portVoltage:
		if n := len(elems) / 4; n > 0 {
			d.lastV = float64(decodeF32(elems[(n-1)*4:]))
		}
		return
	case portPower:
		return // power is derived, not measured; nothing to latch.
	case portCurrentRange:
		d.lastRange = lastRangeNibble(elems)
		d.feedPort(portCurrentRange, sampleID, elems)
		return
	case portCurrent:
		d.processCurrentSamples(sampleID, elems)
		return
	}
}

func (d *Device) processCurrentSamples(sampleID uint32, elems []byte) {
	n := len(elems) / 4
	iOut := make([]byte, 0, n*4)
	vOut := make([]byte, 0, n*4)
	pOut := make([]byte, 0, n*4)

	for k := 0; k < n; k++ {
		rawI, rawV := float64(decodeF32(elems[k*4:])), d.lastV
		if d.haveCalib {
			rawI, rawV = d.calibration.Apply(d.lastRange, rawI, rawV)
		}
		in := suppress.Sample{
			I:     rawI,
			V:     rawV,
			P:     rawI * rawV,
			Range: d.lastRange,
		}
		out := d.suppressor.Process(in)
		iOut = appendF32(iOut, float32(out.I))
		vOut = appendF32(vOut, float32(out.V))
		pOut = appendF32(pOut, float32(out.P))
	}

	d.feedPort(portCurrent, sampleID, iOut)
	d.feedPort(portVoltage, sampleID, vOut)
	d.feedPort(portPower, sampleID, pOut)
}

// feedPort runs one port's already-decoded elements through its
// reassembler and publishes whatever buffers that produces.
func (d *Device) feedPort(portID int, sampleID uint32, elems []byte) {
	r := d.reassemblers[portID]
	if r == nil {
		return
	}
	port := d.portMap[portID]
	for _, buf := range r.Feed(sampleID, elems) {
		d.publishBuffer(port, buf)
	}
}

func decodeF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func appendF32(out []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(out, b[:]...)
}

func lastRangeNibble(elems []byte) uint8 {
	if len(elems) == 0 {
		return suppress.RangeOff
	}
	return elems[len(elems)-1]
}

func isFrontPanelPort(portID int) bool {
	switch portID {
	case portCurrent, portVoltage, portPower, portCurrentRange:
		return true
	default:
		return false
	}
}
