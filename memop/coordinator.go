// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memop

import (
	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
)

const (
	// MaxWriteLen is the largest write payload accepted in a single
	// write-start request.
	MaxWriteLen = 512 * 1024
	// DefaultReadLen is used when a read request specifies a zero length.
	DefaultReadLen = 512 * 1024
)

// Sink receives the outbound frames and broker publishes a Coordinator's
// protocol steps require. A driver event loop supplies the concrete
// implementation; the coordinator itself performs no I/O.
type Sink interface {
	SendErase(target Target, region Region)
	SendWriteStart(target Target, region Region, totalLen uint32)
	SendWriteData(target Target, region Region, offset uint32, data []byte)
	SendWriteFinalize(target Target, region Region)
	SendReadReq(target Target, region Region, length uint32)

	// PublishStatus emits the "#"-suffixed return-code message for topic.
	PublishStatus(topic string, status int)
	// PublishReadData emits the "!rdata" binary payload for topic.
	PublishReadData(topic string, data []byte)
}

// Coordinator runs at most one memory operation at a time for a device. A
// new Start call aborts any in-flight operation, reporting Aborted on the
// topic that was in progress.
type Coordinator struct {
	sink       Sink
	chunkSize  int
	bufferSize int

	op     Op
	target Target
	region Region
	topic  string

	data  []byte
	total uint32
	valid uint32
	sent  uint32

	pending []uint32 // offsets of in-flight (sent, not yet acked) write chunks

	status int

	onComplete func(error)
}

// NewCoordinator returns a Coordinator that caps write/read chunks at
// chunkSize bytes and limits the outstanding write window to bufferSize
// bytes.
func NewCoordinator(sink Sink, chunkSize, bufferSize int) *Coordinator {
	return &Coordinator{
		sink:       sink,
		chunkSize:  chunkSize,
		bufferSize: bufferSize,
	}
}

// SetOnComplete installs a callback invoked exactly once when the current
// operation finishes, successfully (nil) or not. Mainly useful for chaining
// a sequence of operations on this Coordinator, such as a multi-region
// batch erase, one after another.
func (c *Coordinator) SetOnComplete(fn func(error)) {
	c.onComplete = fn
}

// Op reports the operation currently in flight.
func (c *Coordinator) Op() Op { return c.op }

// abort cancels any in-flight operation, publishing status=1 (Aborted) on
// its topic.
func (c *Coordinator) abort() {
	if c.op == OpNone {
		return
	}
	topic, op := c.topic, c.op
	c.reset()
	c.sink.PublishStatus(topic, 1)
	c.complete(xerrors.Errorf("memop: operation %v on %q: %w", op, topic, jsdrv.ErrAborted))
}

func (c *Coordinator) reset() {
	c.op = OpNone
	c.topic = ""
	c.data = nil
	c.total = 0
	c.valid = 0
	c.sent = 0
	c.pending = nil
	c.status = 0
}

func (c *Coordinator) complete(err error) {
	if c.onComplete != nil {
		c.onComplete(err)
	}
}

// StartErase begins an erase of region on target, reporting completion and
// errors on topic.
func (c *Coordinator) StartErase(topic string, target Target, regionName string) error {
	region, err := Lookup(target, regionName)
	if err != nil {
		c.sink.PublishStatus(topic, 1)
		return err
	}

	c.abort()
	c.op = OpErase
	c.target = target
	c.region = region
	c.topic = topic

	c.sink.SendErase(target, region)
	return nil
}

// HandleEraseAck completes the in-flight erase operation.
func (c *Coordinator) HandleEraseAck() {
	if c.op != OpErase {
		return
	}
	topic := c.topic
	c.reset()
	c.sink.PublishStatus(topic, 0)
	c.complete(nil)
}

// StartWrite begins a windowed write of data to region on target, reporting
// completion and errors on topic.
func (c *Coordinator) StartWrite(topic string, target Target, regionName string, data []byte) error {
	region, err := Lookup(target, regionName)
	if err != nil {
		c.sink.PublishStatus(topic, 1)
		return err
	}
	if len(data) > MaxWriteLen {
		c.sink.PublishStatus(topic, 1)
		return xerrors.Errorf("memop: write of %d bytes to %q exceeds %d: %w", len(data), regionName, MaxWriteLen, jsdrv.ErrTooBig)
	}

	c.abort()
	c.op = OpWriteStart
	c.target = target
	c.region = region
	c.topic = topic
	c.data = data
	c.total = uint32(len(data))

	c.sink.SendWriteStart(target, region, c.total)
	return nil
}

// HandleWriteStartAck advances a write operation from write-start to
// write-data and begins streaming windowed chunks.
func (c *Coordinator) HandleWriteStartAck() {
	if c.op != OpWriteStart {
		return
	}
	c.op = OpWriteData
	c.pumpWrite()
}

// pumpWrite sends as many further chunks as the send-side window allows,
// keeping sent-valid < bufferSize-chunkSize at all times (a single chunk is
// always sent when nothing is in flight).
func (c *Coordinator) pumpWrite() {
	for c.sent < c.total {
		end := c.sent + uint32(c.chunkSize)
		if end > c.total {
			end = c.total
		}
		if c.sent != c.valid && int(end-c.valid) >= c.bufferSize-c.chunkSize {
			return
		}
		chunk := c.data[c.sent:end]
		c.sink.SendWriteData(c.target, c.region, end, chunk)
		c.pending = append(c.pending, end)
		c.sent = end
	}
}

// HandleWriteDataAck processes an acknowledgement reporting the last
// accepted offset. The offset must be the end of a chunk still in flight;
// it accepts that chunk and every chunk sent before it. Any other offset
// aborts the operation with Synchronization.
func (c *Coordinator) HandleWriteDataAck(offset uint32) error {
	if c.op != OpWriteData {
		return nil
	}
	k := -1
	for i, end := range c.pending {
		if end == offset {
			k = i
			break
		}
	}
	if k < 0 {
		topic := c.topic
		c.reset()
		c.sink.PublishStatus(topic, 1)
		err := xerrors.Errorf("memop: write ack offset %d on %q: %w", offset, topic, jsdrv.ErrSynchronization)
		c.complete(err)
		return err
	}

	c.pending = c.pending[k+1:]
	c.valid = offset

	if c.valid == c.total {
		c.op = OpWriteFinalize
		c.sink.SendWriteFinalize(c.target, c.region)
		return nil
	}
	c.pumpWrite()
	return nil
}

// HandleWriteFinalizeAck completes a write operation successfully.
func (c *Coordinator) HandleWriteFinalizeAck() {
	if c.op != OpWriteFinalize {
		return
	}
	topic := c.topic
	c.reset()
	c.sink.PublishStatus(topic, 0)
	c.complete(nil)
}

// StartRead begins a windowed read of length bytes (DefaultReadLen when
// zero) from region on target, reporting the result on topic.
func (c *Coordinator) StartRead(topic string, target Target, regionName string, length uint32) error {
	region, err := Lookup(target, regionName)
	if err != nil {
		c.sink.PublishStatus(topic, 1)
		return err
	}
	if length == 0 {
		length = DefaultReadLen
	}

	c.abort()
	c.op = OpReadReq
	c.target = target
	c.region = region
	c.topic = topic
	c.total = length
	c.data = make([]byte, 0, length)

	c.sink.SendReadReq(target, region, length)
	return nil
}

// HandleReadReqAck advances a read operation from read-req to read-data.
func (c *Coordinator) HandleReadReqAck() {
	if c.op != OpReadReq {
		return
	}
	c.op = OpReadData
}

// HandleReadData processes one incoming read-data chunk. A chunk is
// accepted when its offset equals the current valid offset and its length
// does not exceed the configured chunk size; any other chunk records the
// first non-zero status but does not abort — the operation keeps draining
// until HandleReadTerminate.
func (c *Coordinator) HandleReadData(offset uint32, payload []byte) {
	if c.op != OpReadData {
		return
	}
	if offset == c.valid && len(payload) <= c.chunkSize {
		c.data = append(c.data, payload...)
		c.valid += uint32(len(payload))
		return
	}
	if c.status == 0 {
		c.status = 1
	}
}

// HandleReadTerminate completes a read operation: it publishes the
// accumulated bytes as a binary "!rdata" message, then the accumulated
// status as a "#" return code.
func (c *Coordinator) HandleReadTerminate() {
	if c.op != OpReadData && c.op != OpReadReq {
		return
	}
	topic, data, status := c.topic, c.data, c.status
	c.reset()
	c.sink.PublishReadData(topic, data)
	c.sink.PublishStatus(topic, status)
	c.complete(nil)
}
