// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

// maxElapsedSamples is the number of 2 Msps sample-ids a pending buffer may
// span before it is flushed, regardless of byte occupancy.
const maxElapsedSamples = 100000

// defaultCapacity bounds a pending buffer's raw byte occupancy: a buffer is
// emitted once its data reaches this many bytes.
const defaultCapacity = 4096

// Buffer is a pending (or emitted) outbound reassembly buffer for one port.
type Buffer struct {
	StartSampleID uint32
	FieldID       int
	FieldIndex    int
	Kind          ElemKind
	Bits          int
	Count         int
	Data          []byte

	// Discontinuity marks that the payload arriving after this buffer's
	// last sample did not carry the expected next sample-id, i.e. the
	// port's stream of sample-ids broke continuity right after this buffer,
	// which was emitted early because of it.
	Discontinuity bool
}

// Reassembler accumulates decoded per-port samples into Buffers, emitting
// one whenever the 2 Msps elapsed-sample threshold is exceeded, the
// buffer's byte occupancy reaches its capacity, or a sample-id
// discontinuity is detected on arrival.
type Reassembler struct {
	port     Port
	expected uint32
	synced   bool
	pending  *Buffer
	capacity int
}

// NewReassembler returns a Reassembler for port, ready to accept its first
// payload.
func NewReassembler(port Port) *Reassembler {
	return &Reassembler{port: port, capacity: defaultCapacity}
}

// SetCapacity overrides the default pending-buffer byte capacity.
func (r *Reassembler) SetCapacity(n int) { r.capacity = n }

// Feed processes one decoded port payload (its first sample-id and decoded
// elements; the downsample factor comes from the port) and returns zero or
// more Buffers ready for emission to the broker, in emission order.
func (r *Reassembler) Feed(sampleID uint32, elems []byte) []*Buffer {
	var emitted []*Buffer
	elemSize := ElemSize(r.port.Bits)
	n := 0
	if elemSize > 0 {
		n = len(elems) / elemSize
	}
	downsample := r.port.Downsample
	if downsample == 0 {
		downsample = 1
	}

	if r.pending != nil && r.synced && sampleID != r.expected {
		r.pending.Discontinuity = true
		emitted = append(emitted, r.pending)
		r.pending = nil
	}

	if r.pending == nil {
		r.pending = &Buffer{
			StartSampleID: sampleID,
			FieldID:       r.port.FieldID,
			FieldIndex:    r.port.FieldIndex,
			Kind:          r.port.Kind,
			Bits:          r.port.Bits,
		}
	}

	r.pending.Data = append(r.pending.Data, elems...)
	r.pending.Count += n
	r.expected = sampleID + uint32(n)*downsample
	r.synced = true

	elapsed := r.expected - r.pending.StartSampleID // wraps intentionally
	full := r.capacity > 0 && len(r.pending.Data) >= r.capacity
	if elapsed > maxElapsedSamples || full {
		emitted = append(emitted, r.pending)
		r.pending = nil
	}

	return emitted
}

// Flush returns any pending buffer, clearing it. Callers use this on
// shutdown or link reset to avoid losing partially accumulated samples.
func (r *Reassembler) Flush() *Buffer {
	p := r.pending
	r.pending = nil
	return p
}
