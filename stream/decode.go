// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream implements the streaming sample decompressor and the
// per-port reassembly pipeline for the older (framed stream) device
// generation: bit-packed per-port payloads are expanded into fixed-width
// sample arrays and accumulated into outbound buffers keyed by sample-id
// continuity.
package stream // import "github.com/go-lpc/jsdrv/stream"

import (
	"encoding/binary"
	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
)

// ElemSize returns the native serialized width, in bytes, of one decoded
// sample for the given element bit size. u4 and u1 streams are expanded to
// one byte per sample; f32 and u16 pass through at their native width.
func ElemSize(bits int) int {
	switch bits {
	case 32:
		return 4
	case 16:
		return 2
	case 8, 4, 1:
		return 1
	default:
		return 0
	}
}

// Decode parses a per-port stream payload: a leading little-endian 32-bit
// sample-id (quoted at the 2 Msps raw timebase regardless of the port's
// actual rate) followed by packed sample data whose encoding depends on
// bits. It returns the sample-id and a byte slice holding ElemSize(bits)
// bytes per decoded sample.
func Decode(bits int, payload []byte) (sampleID uint32, out []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, xerrors.Errorf("stream: payload too short (%d bytes): %w", len(payload), jsdrv.ErrStreamDecode)
	}
	sampleID = binary.LittleEndian.Uint32(payload[:4])
	body := payload[4:]

	switch bits {
	case 32:
		if len(body)%4 != 0 {
			return 0, nil, xerrors.Errorf("stream: f32 body not word-aligned (%d bytes): %w", len(body), jsdrv.ErrStreamDecode)
		}
		out = append([]byte(nil), body...)
	case 16:
		if len(body)%2 != 0 {
			return 0, nil, xerrors.Errorf("stream: u16 body not half-word-aligned (%d bytes): %w", len(body), jsdrv.ErrStreamDecode)
		}
		out = append([]byte(nil), body...)
	case 8:
		out = append([]byte(nil), body...)
	case 4:
		out, err = decodeU4RLE(body)
	case 1:
		out, err = decodeU1RLE(body)
	default:
		return 0, nil, xerrors.Errorf("stream: unsupported element bit size %d: %w", bits, jsdrv.ErrStreamDecode)
	}
	if err != nil {
		return 0, nil, err
	}
	if len(out) == 0 {
		return 0, nil, xerrors.Errorf("stream: decode produced no samples: %w", jsdrv.ErrStreamDecode)
	}
	return sampleID, out, nil
}

// decodeU4RLE expands the current-range stream's 16-bit RLE groups: each
// group's low 4 bits are the value, the upper 12 bits plus one are the run
// length (1..4096 samples of that value).
func decodeU4RLE(body []byte) ([]byte, error) {
	if len(body)%2 != 0 {
		return nil, xerrors.Errorf("stream: u4 RLE body not 16-bit aligned (%d bytes): %w", len(body), jsdrv.ErrStreamDecode)
	}

	out := make([]byte, 0, len(body)*4)
	for i := 0; i < len(body); i += 2 {
		group := binary.LittleEndian.Uint16(body[i : i+2])
		value := byte(group & 0x0F)
		run := int(group>>4) + 1
		out = appendRun(out, value, run)
	}
	return out, nil
}

// decodeU1RLE expands the binary (bit-level) prefix-coded RLE stream.
func decodeU1RLE(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body)*4)

	i := 0
	for i < len(body) {
		b := body[i]
		switch {
		case b&0x80 == 0: // 0xxxxxxx: 7 literal bits, LSB-first
			for bit := 0; bit < 7; bit++ {
				out = append(out, (b>>uint(bit))&1)
			}
			i++

		case b&0xC0 == 0x80: // 10xzzzzz: value x, run z+8 (8..39)
			value := (b >> 5) & 1
			run := int(b&0x1F) + 8
			out = appendRun(out, value, run)
			i++

		case b&0xE0 == 0xC0: // 110xzzzz zzzzzzzz: value x, run z+40 (40..4135)
			if i+1 >= len(body) {
				return nil, xerrors.Errorf("stream: truncated u1 13-bit run prefix at byte %d: %w", i, jsdrv.ErrStreamDecode)
			}
			value := (b >> 4) & 1
			z := uint16(b&0x0F)<<8 | uint16(body[i+1])
			run := int(z) + 40
			out = appendRun(out, value, run)
			i += 2

		default:
			return nil, xerrors.Errorf("stream: unrecognized u1 RLE prefix 0x%02x at byte %d: %w", b, i, jsdrv.ErrStreamDecode)
		}
	}
	return out, nil
}

func appendRun(out []byte, v byte, n int) []byte {
	for k := 0; k < n; k++ {
		out = append(out, v)
	}
	return out
}
