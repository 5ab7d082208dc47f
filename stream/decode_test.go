// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-lpc/jsdrv"
)

func encodeU4RLE(runs []struct {
	value byte
	n     int
}) []byte {
	var buf bytes.Buffer
	for _, r := range runs {
		group := uint16(r.value&0x0F) | uint16(r.n-1)<<4
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], group)
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func TestDecodeU4RLERoundTrip(t *testing.T) {
	runs := []struct {
		value byte
		n     int
	}{
		{2, 1}, {3, 4096}, {0, 10},
	}
	body := encodeU4RLE(runs)

	sampleID := uint32(0x11223344)
	payload := append(le32(sampleID), body...)

	gotID, out, err := Decode(4, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if gotID != sampleID {
		t.Fatalf("sample id: got=0x%x want=0x%x", gotID, sampleID)
	}

	var want []byte
	for _, r := range runs {
		for k := 0; k < r.n; k++ {
			want = append(want, r.value)
		}
	}
	if !bytes.Equal(out, want) {
		t.Fatalf("decoded values mismatch: got len=%d want len=%d", len(out), len(want))
	}
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestDecodeU1Literal(t *testing.T) {
	// 0b0_1010101 -> 7 literal bits, LSB first: 1,0,1,0,1,0,1
	payload := append(le32(1), 0x55)

	_, out, err := Decode(1, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	want := []byte{1, 0, 1, 0, 1, 0, 1}
	if !bytes.Equal(out, want) {
		t.Fatalf("got=%v want=%v", out, want)
	}
}

func TestDecodeU1ShortRun(t *testing.T) {
	// 10xzzzzz: value=1 (x), z=0 -> run=8
	b := byte(0x80 | 0x20 | 0x00) // 10 1 00000
	payload := append(le32(0), b)

	_, out, err := Decode(1, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if len(out) != 8 {
		t.Fatalf("run length: got=%d want=8", len(out))
	}
	for _, v := range out {
		if v != 1 {
			t.Fatalf("value: got=%d want=1", v)
		}
	}
}

func TestDecodeU1LongRun(t *testing.T) {
	// 110xzzzz zzzzzzzz: value=0, z=0 -> run=40
	b0 := byte(0xC0) // 110 0 0000
	b1 := byte(0x00)
	payload := append(le32(0), b0, b1)

	_, out, err := Decode(1, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if len(out) != 40 {
		t.Fatalf("run length: got=%d want=40", len(out))
	}
}

func TestDecodeU1RoundTrip(t *testing.T) {
	// shortest-prefix encoder, mirroring the decoder's own grammar, used to
	// check round-trip fidelity per the RLE decode law.
	// A literal byte always carries exactly 7 samples, so the sample count
	// after the run codes is a multiple of 7.
	samples := []byte{1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 1, 0, 0, 1}

	enc := encodeU1(samples)
	payload := append(le32(42), enc...)

	id, out, err := Decode(1, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if id != 42 {
		t.Fatalf("sample id: got=%d want=42", id)
	}
	if !bytes.Equal(out, samples) {
		t.Fatalf("got=%v want=%v", out, samples)
	}
}

// encodeU1 is a minimal test-only encoder, used to validate RLE decode
// fidelity: runs of 8 or more equal bits use the shortest run code, and
// anything else goes out as a literal byte holding the next 7 samples
// (zero-padded if fewer than 7 remain).
func encodeU1(samples []byte) []byte {
	var out []byte
	i := 0
	for i < len(samples) {
		v := samples[i]
		j := i
		for j < len(samples) && samples[j] == v {
			j++
		}
		run := j - i
		switch {
		case run >= 40:
			n := run
			if n > 4135 {
				n = 4135
			}
			z := uint16(n - 40)
			b0 := byte(0xC0) | (v&1)<<4 | byte(z>>8)
			b1 := byte(z)
			out = append(out, b0, b1)
			i += n
		case run >= 8:
			n := run
			if n > 39 {
				n = 39
			}
			z := byte(n - 8)
			b := byte(0x80) | (v&1)<<5 | z
			out = append(out, b)
			i += n
		default:
			var b byte
			for k := 0; k < 7 && i+k < len(samples); k++ {
				b |= (samples[i+k] & 1) << uint(k)
			}
			out = append(out, b)
			i += 7
		}
	}
	return out
}

func TestDecodeF32Passthrough(t *testing.T) {
	body := []byte{0, 0, 128, 63, 0, 0, 0, 64} // 1.0, 2.0 as LE float32
	payload := append(le32(5), body...)

	id, out, err := Decode(32, payload)
	if err != nil {
		t.Fatalf("decode: %+v", err)
	}
	if id != 5 || !bytes.Equal(out, body) {
		t.Fatalf("passthrough mismatch: id=%d out=%v", id, out)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	payload := append(le32(0), 0xE0) // 111-prefix: unrecognized
	_, _, err := Decode(1, payload)
	if !errors.Is(err, jsdrv.ErrStreamDecode) {
		t.Fatalf("got err=%v, want ErrStreamDecode", err)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	_, _, err := Decode(8, []byte{1, 2})
	if !errors.Is(err, jsdrv.ErrStreamDecode) {
		t.Fatalf("got err=%v, want ErrStreamDecode", err)
	}
}
