// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"bytes"
	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
)

// pubsubTopicSize is the fixed, NUL-padded topic field width of a pubsub
// data frame's payload.
const pubsubTopicSize = 32

// ValueType tags the encoding of a pubsub value, carried in the low byte of
// a pubsub data frame's metadata field.
type ValueType uint8

const (
	ValueU32 ValueType = 0x01
	ValueF32 ValueType = 0x02
	ValueStr ValueType = 0x20
	ValueBin ValueType = 0x21
)

// encodePubSub packs topic (NUL-padded to pubsubTopicSize bytes; a topic of
// pubsubTopicSize bytes or more is rejected with ErrParameterInvalid) and
// value into a pubsub data-frame payload, returning the payload and the
// metadata word that accompanies it.
//
// The payload is padded with zero bytes to a 4-byte boundary, as required
// of every data-frame payload; because that padding can itself look like
// trailing zero value bytes, metadata's bits [9:8] record the low 2 bits of
// the true (unpadded) total payload length, letting the receiver recover
// the exact value length from the frame's length field (which only ever
// reports the padded size) the same way §4.1 recovers it.
func encodePubSub(topic string, vt ValueType, value []byte) (metadata uint16, payload []byte, err error) {
	if len(topic) >= pubsubTopicSize {
		return 0, nil, xerrors.Errorf("driver: pubsub topic %q exceeds %d bytes: %w", topic, pubsubTopicSize-1, jsdrv.ErrParameterInvalid)
	}

	total := pubsubTopicSize + len(value)
	padded := total
	if r := padded % 4; r != 0 {
		padded += 4 - r
	}

	payload = make([]byte, padded)
	copy(payload, topic)
	copy(payload[pubsubTopicSize:], value)

	metadata = uint16(vt) | uint16(total%4)<<8
	return metadata, payload, nil
}

// decodePubSub is the inverse of encodePubSub: given the metadata and the
// (padded) payload of a received pubsub data frame, it recovers the topic,
// value type, and the exact (unpadded) value bytes.
func decodePubSub(metadata uint16, payload []byte) (topic string, vt ValueType, value []byte, err error) {
	if len(payload) < pubsubTopicSize {
		return "", 0, nil, xerrors.Errorf("driver: pubsub payload too short (len=%d): %w", len(payload), jsdrv.ErrParameterInvalid)
	}

	rawTopic := payload[:pubsubTopicSize]
	if i := bytes.IndexByte(rawTopic, 0); i >= 0 {
		rawTopic = rawTopic[:i]
	}
	topic = string(rawTopic)
	vt = ValueType(metadata & 0xFF)

	lowBits := int((metadata >> 8) & 0x3)
	k := (4 - lowBits) % 4
	total := len(payload) - k
	if total < pubsubTopicSize || total > len(payload) {
		return "", 0, nil, xerrors.Errorf("driver: pubsub length decode out of range (payload=%d, lowBits=%d): %w", len(payload), lowBits, jsdrv.ErrParameterInvalid)
	}

	value = payload[pubsubTopicSize:total]
	return topic, vt, value, nil
}
