// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package suppress

import "gonum.org/v1/gonum/interp"

// Processor is a fixed-latency current-range suppressor. Each call to
// Process consumes one 2 Msps input sample and returns the sample that is
// now final: either Missing during warm-up, or the input sample from
// pre+window+post+1 calls ago, replaced if it fell inside a suppression
// window scheduled by an intervening current-range transition.
//
// Not safe for concurrent use; one Processor per device front-panel
// stream.
type Processor struct {
	pre, window, post int
	mode              Mode
	matrix            *[9][9]uint8

	delay int

	ring []Sample
	mask uint64

	count     uint64
	haveLast  bool
	lastRange uint8

	spanActive bool
	spanStart  int64
	spanEnd    int64
}

// NewProcessor returns a Processor configured with the given pre/window/post
// margins (pre and post at most 8, pre+window+post at most 12, per the
// device's validated configuration range), a replacement mode, and a
// suppression-duration matrix (MatrixAggressive or MatrixConservative).
func NewProcessor(pre, window, post int, mode Mode, matrix *[9][9]uint8) *Processor {
	delay := pre + window + post + 1
	capacity := nextPow2(2 * delay)
	if capacity < 16 {
		capacity = 16
	}

	return &Processor{
		pre:       pre,
		window:    window,
		post:      post,
		mode:      mode,
		matrix:    matrix,
		delay:     delay,
		ring:      make([]Sample, capacity),
		mask:      uint64(capacity - 1),
		lastRange: RangeOff,
	}
}

// Delay returns pre+window+post+1, the fixed number of input samples by
// which output trails input.
func (p *Processor) Delay() int { return p.delay }

// Process consumes one input sample and returns the corresponding delayed
// output sample (or Missing during warm-up).
func (p *Processor) Process(s Sample) Sample {
	idx := int64(p.count)
	p.ring[p.count&p.mask] = s

	if p.mode != ModeOff && p.haveLast && s.Range != p.lastRange {
		p.scheduleTransition(idx, p.lastRange, s.Range)
	}
	p.haveLast = true
	p.lastRange = s.Range
	p.count++

	outIdx := idx - int64(p.delay)
	if outIdx < 0 {
		return Missing
	}

	if p.spanActive && outIdx > p.spanEnd {
		p.spanActive = false
	}

	out := p.ring[uint64(outIdx)&p.mask]
	if p.spanActive && outIdx >= p.spanStart && outIdx <= p.spanEnd {
		out = p.replace(out, outIdx)
	}
	return out
}

func (p *Processor) scheduleTransition(idx int64, from, to uint8) {
	if from == RangeOff || from == RangeMissing || to == RangeOff || to == RangeMissing {
		return // boundary tie-break: zero-length window, no suppression.
	}

	width := int(p.matrix[to][from])
	if width > p.window {
		width = p.window
	}

	lo := idx - int64(p.pre)
	if lo < 0 {
		lo = 0
	}
	hi := idx + int64(width) + int64(p.post) - 1
	if hi < lo {
		hi = lo
	}

	maxTotal := int64(p.pre + p.window + p.post)
	if p.spanActive && lo <= p.spanEnd+1 {
		if hi > p.spanEnd {
			p.spanEnd = hi
		}
		if p.spanEnd-p.spanStart+1 > maxTotal {
			p.spanEnd = p.spanStart + maxTotal - 1
		}
		return
	}

	p.spanActive = true
	p.spanStart = lo
	p.spanEnd = hi
}

func (p *Processor) replace(s Sample, idx int64) Sample {
	switch p.mode {
	case ModeNaN:
		return Sample{I: missingF(), V: missingF(), P: missingF(), Range: s.Range, GPI0: s.GPI0, GPI1: s.GPI1}
	case ModeInterp:
		return p.interpolate(s, idx)
	default:
		return s
	}
}

func (p *Processor) interpolate(s Sample, idx int64) Sample {
	beforeIdx := p.spanStart - 1
	afterIdx := p.spanEnd + 1
	if beforeIdx < 0 {
		beforeIdx = 0
	}

	before := p.ring[uint64(beforeIdx)&p.mask]
	after := p.ring[uint64(afterIdx)&p.mask]

	x := []float64{float64(beforeIdx), float64(afterIdx)}
	if x[0] == x[1] {
		return s
	}

	var fi, fv interp.PiecewiseLinear
	_ = fi.Fit(x, []float64{before.I, after.I})
	_ = fv.Fit(x, []float64{before.V, after.V})

	i := fi.Predict(float64(idx))
	v := fv.Predict(float64(idx))

	return Sample{I: i, V: v, P: i * v, Range: s.Range, GPI0: s.GPI0, GPI1: s.GPI1}
}

func missingF() float64 {
	return Missing.I
}
