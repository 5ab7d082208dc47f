// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

// ElemKind classifies the numeric interpretation of a port's decoded
// samples.
type ElemKind uint8

const (
	KindInt ElemKind = iota
	KindUint
	KindFloat
)

// Port describes one stream port: the topics it publishes control and data
// on, the field it feeds in the broker's pubsub namespace, its element
// encoding, and its downsample factor relative to the 2 Msps raw timebase.
// Ports 0..3 are reserved for handshake/pubsub/log/memory traffic and never
// carry a sample stream.
type Port struct {
	ID           int
	ControlTopic string
	DataTopic    string
	FieldID      int
	FieldIndex   int
	Kind         ElemKind
	Bits         int // element bit size, a power of two: 1, 4, 8, 16, 32
	Downsample   uint32
}

// IsReserved reports whether p is one of the reserved control ports
// (0..3), which never carry a decodable sample stream.
func (p Port) IsReserved() bool { return p.ID < 4 }

// DefaultPortMap returns the port table for the older (streaming-frame)
// instrument generation: current, voltage, power, current-range, four
// general-purpose inputs, and a UART byte passthrough, matching the broker
// topics named in the external interface (s/i, s/v, s/p, s/i/range,
// s/gpi/{0..3}, s/uart/0).
func DefaultPortMap() map[int]Port {
	ports := map[int]Port{
		16: {ID: 16, ControlTopic: "s/i/!ctrl", DataTopic: "s/i/!data", FieldID: 1, FieldIndex: 0, Kind: KindFloat, Bits: 32, Downsample: 1},
		17: {ID: 17, ControlTopic: "s/v/!ctrl", DataTopic: "s/v/!data", FieldID: 2, FieldIndex: 0, Kind: KindFloat, Bits: 32, Downsample: 1},
		18: {ID: 18, ControlTopic: "s/p/!ctrl", DataTopic: "s/p/!data", FieldID: 3, FieldIndex: 0, Kind: KindFloat, Bits: 32, Downsample: 1},
		19: {ID: 19, ControlTopic: "s/i/range/!ctrl", DataTopic: "s/i/range/!data", FieldID: 4, FieldIndex: 0, Kind: KindUint, Bits: 4, Downsample: 1},
		24: {ID: 24, ControlTopic: "s/uart/0/!ctrl", DataTopic: "s/uart/0/!data", FieldID: 5, FieldIndex: 0, Kind: KindUint, Bits: 8, Downsample: 1},
	}
	for i := 0; i < 4; i++ {
		id := 20 + i
		ports[id] = Port{
			ID:           id,
			ControlTopic: "s/gpi/" + string(rune('0'+i)) + "/!ctrl",
			DataTopic:    "s/gpi/" + string(rune('0'+i)) + "/!data",
			FieldID:      6,
			FieldIndex:   i,
			Kind:         KindUint,
			Bits:         1,
			Downsample:   1,
		}
	}
	return ports
}
