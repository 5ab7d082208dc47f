// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package suppress implements the current-range suppressor: a fixed-latency
// pipeline that interpolates or NaN-fills samples around current-range
// switching transients on the older device generation.
package suppress // import "github.com/go-lpc/jsdrv/suppress"

import "math"

// RangeOff and RangeMissing are the two sentinel current_range values that
// never anchor a suppression window.
const (
	RangeOff     = 7
	RangeMissing = 8
)

// Sample is one 2 Msps front-panel sample.
type Sample struct {
	I, V, P     float64
	Range       uint8
	GPI0, GPI1  bool
}

// Missing is the sentinel sample used for warm-up output and for NaN-mode
// suppression.
var Missing = Sample{I: math.NaN(), V: math.NaN(), P: math.NaN(), Range: RangeMissing}

// Mode selects how samples inside a suppression window are replaced.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeNaN
	ModeInterp
)

// MatrixAggressive and MatrixConservative are the two experimentally
// determined [to][from] suppression-duration tables, in samples at 2 Msps.
// Rows/columns 7 (off) and 8 (missing) are zero: those transitions are
// never suppressed.
var (
	MatrixAggressive = [9][9]uint8{
		{0, 5, 5, 5, 5, 5, 6, 0, 0},
		{3, 0, 5, 5, 5, 6, 7, 0, 0},
		{4, 4, 0, 6, 6, 7, 7, 0, 0},
		{4, 4, 4, 0, 6, 6, 7, 0, 0},
		{4, 4, 4, 4, 0, 6, 7, 0, 0},
		{4, 4, 4, 4, 4, 0, 7, 0, 0},
		{4, 4, 4, 4, 4, 4, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0, 0},
	}

	MatrixConservative = [9][9]uint8{
		{0, 5, 7, 7, 7, 7, 7, 0, 0},
		{3, 0, 7, 7, 7, 7, 7, 0, 0},
		{5, 5, 0, 7, 7, 7, 7, 0, 0},
		{5, 5, 5, 0, 7, 7, 7, 0, 0},
		{5, 5, 5, 5, 0, 7, 7, 0, 0},
		{5, 5, 5, 5, 5, 0, 7, 0, 0},
		{5, 5, 5, 5, 5, 5, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
)

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
