// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePubSubRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name  string
		topic string
		vt    ValueType
		value []byte
	}{
		{"empty value", "h/i/!ctrl", ValueU32, nil},
		{"one byte", "h/link/!ping", ValueStr, []byte("h")},
		{"four bytes aligned", "h/mem/c/app/!erase", ValueBin, []byte{1, 2, 3, 4}},
		{"five bytes unaligned", "h/cfg/serial", ValueStr, []byte("abcde")},
		{"near topic limit", string(bytes.Repeat([]byte("a"), pubsubTopicSize-1)), ValueBin, []byte{0xAA}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			metadata, payload, err := encodePubSub(tc.topic, tc.vt, tc.value)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(payload)%4 != 0 {
				t.Fatalf("payload not 4-byte padded: len=%d", len(payload))
			}

			topic, vt, value, err := decodePubSub(metadata, payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if topic != tc.topic {
				t.Fatalf("topic = %q, want %q", topic, tc.topic)
			}
			if vt != tc.vt {
				t.Fatalf("value type = %v, want %v", vt, tc.vt)
			}
			if !bytes.Equal(value, tc.value) {
				t.Fatalf("value = %v, want %v", value, tc.value)
			}
		})
	}
}

func TestEncodePubSubTopicTooLong(t *testing.T) {
	topic := string(make([]byte, pubsubTopicSize))
	if _, _, err := encodePubSub(topic, ValueBin, nil); err == nil {
		t.Fatalf("expected error for topic of length %d", len(topic))
	}
}

func TestDecodePubSubShortPayload(t *testing.T) {
	if _, _, _, err := decodePubSub(0, make([]byte, pubsubTopicSize-1)); err == nil {
		t.Fatalf("expected error for undersized payload")
	}
}
