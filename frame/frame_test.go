// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"errors"
	"testing"

	"github.com/go-lpc/jsdrv"
)

func TestLengthCheck(t *testing.T) {
	for l := 0; l <= 127; l++ {
		got := lengthCheck(uint8(l))
		want := uint8((uint32(l) * 0xd8d9) >> 11)
		if got != want {
			t.Fatalf("length=%d: got=0x%02x want=0x%02x", l, got, want)
		}
	}

	seen := make(map[uint8]int)
	for l := 0; l <= 127; l++ {
		seen[lengthCheck(uint8(l))]++
	}
	for v, n := range seen {
		if n > 1 {
			t.Fatalf("length_check not injective over 0..127: value=0x%02x seen %d times", v, n)
		}
	}
}

func TestLinkCheck(t *testing.T) {
	for _, x := range []uint16{0x0000, 0x0001, 0x1234, 0xffff, 0xf000} {
		got := linkCheck(x)
		want := uint32(0xcba9) * uint32(x) // mod 2^32 via uint32 arithmetic
		if got != want {
			t.Fatalf("x=0x%04x: got=0x%08x want=0x%08x", x, got, want)
		}
	}
}

func TestEncodeDecodeDataRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name     string
		service  Service
		metadata uint16
		payload  []byte
	}{
		{"one-word", ServicePubSub, 0x0320, []byte{1, 2, 3, 4}},
		{"max-words", ServiceThroughput, 0xffff, make([]byte, MaxPayloadBytes)},
		{"link-ping", ServiceLink, 0x0001, []byte{0, 0, 0, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCodec()
			wantID := c.OutFrameID()

			buf, err := c.EncodeData(tc.service, tc.metadata, tc.payload)
			if err != nil {
				t.Fatalf("encode: %+v", err)
			}

			got, err := c.Decode(buf)
			if err != nil {
				t.Fatalf("decode: %+v", err)
			}

			if got.Service != tc.service {
				t.Errorf("service: got=%v want=%v", got.Service, tc.service)
			}
			if got.Metadata != tc.metadata {
				t.Errorf("metadata: got=0x%04x want=0x%04x", got.Metadata, tc.metadata)
			}
			if got.FrameID != wantID {
				t.Errorf("frame_id: got=%d want=%d", got.FrameID, wantID)
			}
			if got.LengthCheckFailed {
				t.Errorf("length_check: unexpected failure")
			}
			if string(got.Payload) != string(tc.payload) {
				t.Errorf("payload mismatch")
			}
		})
	}
}

func TestEncodePayloadSize(t *testing.T) {
	c := NewCodec()

	for _, n := range []int{0, 3, MaxPayloadBytes + 4} {
		_, err := c.EncodeData(ServicePubSub, 0, make([]byte, n))
		if !errors.Is(err, jsdrv.ErrPayloadSize) {
			t.Fatalf("n=%d: got err=%v, want ErrPayloadSize", n, err)
		}
	}
}

func TestDecodeBadHeaderByte(t *testing.T) {
	c := NewCodec()
	good, err := c.EncodeData(ServicePubSub, 0x1234, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("encode: %+v", err)
	}

	for i := 0; i < len(good); i++ {
		if i == 2 || i == 3 {
			// frame_id bytes: mutating these changes frame_id, not a
			// structural failure.
			continue
		}
		buf := append([]byte(nil), good...)
		buf[i] ^= 0xff

		d := NewCodec()
		got, err := d.Decode(buf)
		switch {
		case i == 0 || i == 1:
			if !errors.Is(err, jsdrv.ErrFraming) {
				t.Errorf("byte %d: got err=%v, want ErrFraming", i, err)
			}
		case i == 5:
			if err != nil {
				t.Errorf("byte %d (length_check): unexpected error %v", i, err)
			}
			if !got.LengthCheckFailed {
				t.Errorf("byte %d: expected LengthCheckFailed", i)
			}
		case i == 4:
			if !errors.Is(err, jsdrv.ErrFraming) {
				t.Errorf("byte %d (length): got err=%v, want ErrFraming", i, err)
			}
		}
	}
}

func TestEncodeDecodeControl(t *testing.T) {
	c := NewCodec()
	buf := c.EncodeReset(LinkResetRequest)

	if buf[0] != SOF1 || buf[1] != 0x00 || buf[2] != 0x00 || buf[3] != 0xF0 {
		t.Fatalf("unexpected control frame bytes: % x", buf)
	}

	got, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if got.Type != TypeControl {
		t.Fatalf("type: got=%v want=%v", got.Type, TypeControl)
	}
	if got.FrameID != uint16(LinkResetRequest) {
		t.Fatalf("subtype: got=%d want=%d", got.FrameID, LinkResetRequest)
	}
}

func TestDecodeLinkCheckMismatch(t *testing.T) {
	c := NewCodec()
	buf := c.EncodeReset(LinkDisconnectAck)
	buf[4] ^= 0xff // corrupt link_check

	_, err := c.Decode(buf)
	if !errors.Is(err, jsdrv.ErrLinkCheck) {
		t.Fatalf("got err=%v, want ErrLinkCheck", err)
	}
}

func TestDecodeNackFraming(t *testing.T) {
	c := NewCodec()
	buf := c.EncodeControl(TypeNackFraming, 7)

	got, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if got.Resync != 7 {
		t.Fatalf("resync: got=%d want=7", got.Resync)
	}
}

func TestFrameIDGap(t *testing.T) {
	c := NewCodec()
	enc := NewCodec()

	ids := []uint16{0, 1, 2, 4}
	var gaps []uint16
	for _, id := range ids {
		low16 := uint16(TypeData) << 11
		_ = low16
		buf, err := enc.EncodeData(ServicePubSub, 0, []byte{1, 2, 3, 4})
		if err != nil {
			t.Fatalf("encode: %+v", err)
		}
		// force the frame_id to the scenario's sequence.
		buf[2] = byte(id)
		buf[3] = byte(id >> 8)

		f, err := c.Decode(buf)
		if err != nil {
			t.Fatalf("decode id=%d: %+v", id, err)
		}
		if f.FrameIDGap {
			gaps = append(gaps, id)
		}
	}

	if len(gaps) != 1 || gaps[0] != 4 {
		t.Fatalf("gaps: got=%v want=[4]", gaps)
	}
}

func TestFrameIDWraps(t *testing.T) {
	c := NewCodec()
	c.outFrameID = frameIDMax

	buf, err := c.EncodeData(ServicePubSub, 0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("encode: %+v", err)
	}
	f, err := NewCodec().Decode(buf)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if f.FrameID != frameIDMax {
		t.Fatalf("frame_id: got=%d want=%d", f.FrameID, frameIDMax)
	}
	if c.OutFrameID() != 0 {
		t.Fatalf("outFrameID did not wrap: got=%d", c.OutFrameID())
	}
}
