// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/jsdrv/driver"
	"github.com/go-lpc/jsdrv/frame"
)

// debugBackend stands in for the USB bulk-transfer collaborator spec.md
// places out of scope. It never talks to real hardware: Open/BulkOpen/
// Close complete immediately, and Send decodes the outgoing frame only far
// enough to loop back the link-control replies a real device would give,
// so a jsdrvd instance can run its full open/close handshake end to end
// against nothing but itself.
type debugBackend struct {
	name string
	msg  *log.Logger

	codec *frame.Codec
	respQ chan<- driver.Response

	mu   sync.Mutex
	sent int
}

func newDebugBackend(name string) *debugBackend {
	return &debugBackend{
		name:  name,
		msg:   log.New(os.Stdout, "jsdrvd("+name+"): ", 0),
		codec: frame.NewCodec(),
	}
}

func (b *debugBackend) Open() error {
	b.msg.Printf("backend open")
	go b.replyAfter(driver.Response{Topic: driver.RespBackendOpenAck})
	return nil
}

func (b *debugBackend) BulkOpen() error {
	b.msg.Printf("backend bulk-open")
	go b.replyAfter(driver.Response{Topic: driver.RespBackendBulkAck})
	return nil
}

func (b *debugBackend) Close() error {
	b.msg.Printf("backend close")
	go b.replyAfter(driver.Response{Topic: driver.RespBackendCloseAck})
	return nil
}

func (b *debugBackend) Send(buf []byte) error {
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()

	f, err := b.codec.Decode(buf)
	if err != nil {
		b.msg.Printf("sent %d bytes (undecodable as a loopback reply source: %+v)", len(buf), err)
		return nil
	}

	if f.Type != frame.TypeControl {
		return nil
	}

	switch frame.LinkSubtype(f.FrameID) {
	case frame.LinkResetRequest:
		go b.replyAfter(driver.Response{Topic: driver.RespStreamInData, Payload: b.codec.EncodeReset(frame.LinkResetAck)})
	case frame.LinkDisconnectRequest:
		go b.replyAfter(driver.Response{Topic: driver.RespStreamInData, Payload: b.codec.EncodeReset(frame.LinkDisconnectAck)})
	}
	return nil
}

func (b *debugBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// replyAfter delivers resp on the response queue after a short delay,
// mirroring the asynchronous completion a real USB transfer would have.
func (b *debugBackend) replyAfter(resp driver.Response) {
	time.Sleep(5 * time.Millisecond)
	b.respQ <- resp
}
