// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame implements the 512-byte framed-message codec carried over
// the instrument's USB bulk pipe: data frames (pubsub, link, trace,
// throughput), and the 8-byte link-control frames (ack-all, ack-one,
// nack-frame-id, nack-framing-error, reset/disconnect control).
package frame // import "github.com/go-lpc/jsdrv/frame"

import (
	"encoding/binary"
	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
)

// Wire-format sizes, per the MB framer: header is 8 bytes, footer is 4
// bytes, payload is at most 125 32-bit words (500 bytes).
const (
	SOF1 = 0x55

	HeaderSize      = 8
	FooterSize      = 4
	MaxPayloadWords = 125
	MaxPayloadBytes = MaxPayloadWords * 4
	MaxSize         = HeaderSize + MaxPayloadBytes + FooterSize

	// ControlSize is the total wire length of a link-control frame
	// (ack/nack/reset/disconnect): header fields plus a 4-byte link_check,
	// no payload and no separate footer.
	ControlSize = 8

	frameIDMax = 1<<11 - 1 // 11-bit, modulo 2048
)

// Service identifies the payload category of a data frame.
type Service uint8

const (
	ServiceInvalid    Service = 0
	ServiceLink       Service = 1
	ServiceTrace      Service = 2
	ServicePubSub     Service = 3
	ServiceThroughput Service = 4
)

// Type is the 5-bit frame type field.
type Type uint8

const (
	TypeData         Type = 0x00
	TypeAckAll       Type = 0x0F
	TypeAckOne       Type = 0x17
	TypeNackFrameID  Type = 0x1B
	TypeNackFraming  Type = 0x1D // next expected frame_id, see original source
	TypeControl      Type = 0x1E
)

// LinkSubtype is carried in the frame_id field of a control frame.
type LinkSubtype uint8

const (
	LinkResetRequest      LinkSubtype = 0x00
	LinkResetAck          LinkSubtype = 0x01
	LinkDisconnectRequest LinkSubtype = 0x02
	LinkDisconnectAck     LinkSubtype = 0x03
)

// Frame is a decoded view onto a received byte buffer. Payload aliases the
// input slice and is only valid for the lifetime of that buffer.
type Frame struct {
	Type     Type
	Service  Service // only meaningful when Type == TypeData
	FrameID  uint16  // data: sequence id; control: the LinkSubtype value
	Length   uint8   // ((len(payload)+3)>>2)-1, data frames only
	Metadata uint16
	Payload  []byte

	// Resync carries the link-control frame's proposed next expected
	// frame_id, valid only when Type == TypeNackFraming.
	Resync uint16

	// LengthCheckFailed reports a length_check mismatch on a data frame.
	// Per the protocol this is logged, not fatal: the frame is still
	// returned.
	LengthCheckFailed bool

	// FrameIDGap reports that this frame's id did not match the codec's
	// expected next id. Non-fatal: decoding resynchronizes and continues.
	FrameIDGap bool
}

// IsControl reports whether f is a link-control frame (ack/nack/reset/
// disconnect) rather than a data frame.
func (f Frame) IsControl() bool { return f.Type != TypeData }

// lengthCheck computes the length_check field for a data-frame length byte,
// using the polynomial-free parity formula from the wire format.
func lengthCheck(length uint8) uint8 {
	return uint8((uint32(length) * 0xd8d9) >> 11)
}

// linkCheck computes the 32-bit link_check parity word over the low 16 bits
// of a link-control frame's type/id word.
func linkCheck(low16 uint16) uint32 {
	return 0xcba9 * uint32(low16)
}

// Codec encodes outbound frames and decodes inbound ones for a single
// device connection. It owns the monotonic outbound frame-id counter and
// the expected-next inbound frame-id used for gap detection; it holds no
// other state and is not safe for concurrent use.
type Codec struct {
	outFrameID uint16
	inExpected uint16
	inSynced   bool
}

// NewCodec returns a Codec with fresh frame-id counters.
func NewCodec() *Codec {
	return &Codec{}
}

// Reset reinitializes the outbound and inbound frame-id counters, as done
// on a link reset.
func (c *Codec) Reset() {
	c.outFrameID = 0
	c.inExpected = 0
	c.inSynced = false
}

// OutFrameID returns the frame_id that will be assigned to the next
// encoded data frame.
func (c *Codec) OutFrameID() uint16 { return c.outFrameID }

// EncodeData builds a data frame carrying service, metadata and payload
// (1..125 32-bit words, i.e. 4..500 bytes, a multiple of 4). The frame_id
// is taken from the codec's outbound counter and advanced modulo 2048.
func (c *Codec) EncodeData(service Service, metadata uint16, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadBytes || len(payload)%4 != 0 {
		return nil, xerrors.Errorf("frame: invalid payload size (len=%d): %w", len(payload), jsdrv.ErrPayloadSize)
	}

	words := len(payload) / 4
	length := uint8(words - 1)

	frameID := c.outFrameID
	c.outFrameID = (c.outFrameID + 1) & frameIDMax

	buf := make([]byte, HeaderSize+len(payload)+FooterSize)
	buf[0] = SOF1
	buf[1] = byte(service) & 0x0F
	binary.LittleEndian.PutUint16(buf[2:4], uint16(TypeData)<<11|frameID)
	buf[4] = length
	buf[5] = lengthCheck(length)
	binary.LittleEndian.PutUint16(buf[6:8], metadata)
	copy(buf[HeaderSize:], payload)
	// bytes[len-4:] (frame_check) are left zero, as required over USB.

	return buf, nil
}

// EncodeControl builds an 8-byte link-control frame of the given type
// carrying subtype (or, for TypeNackFraming, a resync frame_id) in the
// frame_id field.
func (c *Codec) EncodeControl(typ Type, id uint16) []byte {
	buf := make([]byte, ControlSize)
	buf[0] = SOF1
	buf[1] = 0x00

	low16 := uint16(typ)<<11 | (id & frameIDMax)
	binary.LittleEndian.PutUint16(buf[2:4], low16)
	binary.LittleEndian.PutUint32(buf[4:8], linkCheck(low16))
	return buf
}

// EncodeReset is shorthand for EncodeControl(TypeControl, uint16(subtype)).
func (c *Codec) EncodeReset(subtype LinkSubtype) []byte {
	return c.EncodeControl(TypeControl, uint16(subtype))
}

// Decode parses a single frame from buf. buf must hold exactly one frame:
// HeaderSize+payloadBytes+FooterSize for a data frame, or ControlSize for a
// link-control frame (ack/nack/control). Framing and link_check failures
// are reported as errors; length_check mismatches and frame-id gaps are
// reported as non-fatal fields on the returned Frame.
func (c *Codec) Decode(buf []byte) (Frame, error) {
	if len(buf) < ControlSize {
		return Frame{}, xerrors.Errorf("frame: short buffer (len=%d): %w", len(buf), jsdrv.ErrFraming)
	}
	if buf[0] != SOF1 || buf[1]&0xF0 != 0x00 {
		return Frame{}, xerrors.Errorf("frame: bad SOF (sof1=0x%02x sof2=0x%02x): %w", buf[0], buf[1], jsdrv.ErrFraming)
	}

	low16 := binary.LittleEndian.Uint16(buf[2:4])
	typ := Type(low16 >> 11)
	id := low16 & frameIDMax

	if typ != TypeData {
		return c.decodeControl(typ, id, buf)
	}
	return c.decodeData(Service(buf[1]&0x0F), id, buf)
}

func (c *Codec) decodeControl(typ Type, id uint16, buf []byte) (Frame, error) {
	if len(buf) < ControlSize {
		return Frame{}, xerrors.Errorf("frame: short control frame (len=%d): %w", len(buf), jsdrv.ErrFraming)
	}

	low16 := uint16(typ)<<11 | id
	want := linkCheck(low16)
	got := binary.LittleEndian.Uint32(buf[4:8])
	if got != want {
		return Frame{}, xerrors.Errorf("frame: link_check mismatch (got=0x%08x want=0x%08x): %w", got, want, jsdrv.ErrLinkCheck)
	}

	f := Frame{Type: typ, FrameID: id}
	if typ == TypeNackFraming {
		f.Resync = id
	}
	return f, nil
}

func (c *Codec) decodeData(service Service, id uint16, buf []byte) (Frame, error) {
	if len(buf) < HeaderSize+FooterSize {
		return Frame{}, xerrors.Errorf("frame: short data frame (len=%d): %w", len(buf), jsdrv.ErrFraming)
	}

	length := buf[4]
	gotLC := buf[5]
	wantLC := lengthCheck(length)

	payloadBytes := (int(length) + 1) * 4
	if HeaderSize+payloadBytes+FooterSize != len(buf) {
		return Frame{}, xerrors.Errorf("frame: length field disagrees with buffer size (length=%d, len=%d): %w", length, len(buf), jsdrv.ErrFraming)
	}

	f := Frame{
		Type:              TypeData,
		Service:           service,
		FrameID:           id,
		Length:            length,
		Metadata:          binary.LittleEndian.Uint16(buf[6:8]),
		Payload:           buf[HeaderSize : HeaderSize+payloadBytes],
		LengthCheckFailed: gotLC != wantLC,
	}

	if !c.inSynced {
		c.inExpected = id
		c.inSynced = true
	}
	if id != c.inExpected {
		f.FrameIDGap = true
	}
	c.inExpected = (id + 1) & frameIDMax

	return f, nil
}
