// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/jsdrv/frame"
	"github.com/go-lpc/jsdrv/memop"
)

type fakeBackend struct {
	mu                               sync.Mutex
	openCalls, bulkCalls, closeCalls int
	sent                             [][]byte

	respQ   chan<- Response
	openErr error
	bulkErr error
}

func (f *fakeBackend) Open() error {
	f.mu.Lock()
	f.openCalls++
	f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.respQ <- Response{Topic: RespBackendOpenAck}
	return nil
}

func (f *fakeBackend) BulkOpen() error {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.respQ <- Response{Topic: RespBackendBulkAck}
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Send(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), buf...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type pubMsg struct {
	topic string
	value interface{}
}

type fakeBroker struct {
	mu   sync.Mutex
	msgs []pubMsg
}

func (b *fakeBroker) Publish(topic string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, pubMsg{topic: topic, value: value})
}

func (b *fakeBroker) find(topic string) (pubMsg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].topic == topic {
			return b.msgs[i], true
		}
	}
	return pubMsg{}, false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	if !pollUntil(timeout, cond) {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// pollUntil is safe to call from a goroutine other than the test's own,
// unlike waitFor (which calls t.Fatalf).
func pollUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// runOpenHandshake issues the !open command and drives the Device through
// its full open sequence: two backend acks delivered by fakeBackend itself,
// plus a link-reset-ack control frame this helper injects directly (that
// leg is device-side, not backend-side, per the state machine).
func runOpenHandshake(t *testing.T, dev *Device, backend *fakeBackend) {
	t.Helper()
	codec := frame.NewCodec()
	ackBuf := codec.EncodeReset(frame.LinkResetAck)

	dev.Commands() <- Command{Topic: topicOpen}

	go func() {
		time.Sleep(20 * time.Millisecond)
		dev.Responses() <- Response{Topic: RespStreamInData, Payload: ackBuf}
	}()
}

func TestOpenHandshakeReportsOpenStatusZero(t *testing.T) {
	broker := &fakeBroker{}
	dev := New(nil, broker, WithQueueWait(50*time.Millisecond))
	backend := &fakeBackend{respQ: dev.respQ}
	dev.backend = backend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runOpenHandshake(t, dev, backend)

	go dev.Run(ctx)

	waitFor(t, time.Second, func() bool {
		_, ok := broker.find(topicOpen + "#")
		return ok
	})

	msg, _ := broker.find(topicOpen + "#")
	if msg.value != 0 {
		t.Fatalf("open status = %v, want 0", msg.value)
	}
	if backend.openCalls != 1 || backend.bulkCalls != 1 {
		t.Fatalf("backend calls: open=%d bulk=%d", backend.openCalls, backend.bulkCalls)
	}
}

func TestGracefulCloseReachesClosedState(t *testing.T) {
	broker := &fakeBroker{}
	dev := New(nil, broker, WithQueueWait(50*time.Millisecond))
	backend := &fakeBackend{respQ: dev.respQ}
	dev.backend = backend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runOpenHandshake(t, dev, backend)
	go dev.Run(ctx)

	waitFor(t, time.Second, func() bool {
		_, ok := broker.find(topicOpen + "#")
		return ok
	})

	codec := frame.NewCodec()
	go func() {
		pollUntil(time.Second, func() bool { return backend.sendCount() >= 2 })
		metadata, payload, err := encodePubSub(topicLinkPing, ValueStr, []byte("h|disconnect"))
		if err != nil {
			t.Errorf("encode pubsub echo: %v", err)
			return
		}
		buf, err := codec.EncodeData(frame.ServicePubSub, metadata, payload)
		if err != nil {
			t.Errorf("encode pubsub echo frame: %v", err)
			return
		}
		dev.Responses() <- Response{Topic: RespStreamInData, Payload: buf}

		pollUntil(time.Second, func() bool { return backend.sendCount() >= 3 })
		dev.Responses() <- Response{Topic: RespStreamInData, Payload: codec.EncodeReset(frame.LinkDisconnectAck)}
	}()

	dev.Commands() <- Command{Topic: topicClose}

	waitFor(t, time.Second, func() bool {
		_, ok := broker.find(topicClose + "#")
		return ok
	})

	msg, _ := broker.find(topicClose + "#")
	if msg.value != 0 {
		t.Fatalf("close status = %v, want 0", msg.value)
	}
	if backend.closeCalls != 1 {
		t.Fatalf("backend close calls = %d, want 1", backend.closeCalls)
	}
}

// backendThatNeverOpens fails any open attempt, for tests that exercise a
// Device without ever sending !open and want a hard guarantee that no
// incidental open frame pollutes sendCount.
func backendThatNeverOpens(respQ chan<- Response) *fakeBackend {
	return &fakeBackend{respQ: respQ, openErr: errors.New("open disabled for this test")}
}

func TestPubSubPublishDroppedWhenNotOpen(t *testing.T) {
	broker := &fakeBroker{}
	dev := New(nil, broker, WithQueueWait(20*time.Millisecond))
	backend := backendThatNeverOpens(dev.respQ)
	dev.backend = backend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dev.Run(ctx)

	dev.Commands() <- Command{Topic: "h/some/value", Value: []byte("x")}

	time.Sleep(50 * time.Millisecond)
	if n := backend.sendCount(); n != 0 {
		t.Fatalf("expected no frames sent while closed, got %d", n)
	}
}

func TestMemErasePublishesStatusOnAck(t *testing.T) {
	broker := &fakeBroker{}
	dev := New(nil, broker, WithQueueWait(50*time.Millisecond))
	backend := backendThatNeverOpens(dev.respQ)
	dev.backend = backend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dev.Run(ctx)

	dev.Commands() <- Command{Topic: "h/mem/c/app/!erase"}

	waitFor(t, time.Second, func() bool { return backend.sendCount() >= 1 })

	dev.Responses() <- Response{Topic: RespStreamInData, Payload: eraseAckFrame(t)}

	waitFor(t, time.Second, func() bool {
		_, ok := broker.find("h/mem/c/app/!erase#")
		return ok
	})

	msg, _ := broker.find("h/mem/c/app/!erase#")
	if msg.value != 0 {
		t.Fatalf("erase status = %v, want 0", msg.value)
	}
}

func TestMemBatchEraseChainsThroughEveryRegion(t *testing.T) {
	broker := &fakeBroker{}
	dev := New(nil, broker, WithQueueWait(50*time.Millisecond))
	backend := backendThatNeverOpens(dev.respQ)
	dev.backend = backend

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dev.Run(ctx)

	dev.Commands() <- Command{Topic: "h/mem/c/*/!erase"}

	want := memop.RegionNames(memop.TargetController)
	for range want {
		waitFor(t, time.Second, func() bool { return backend.sendCount() >= 1 })
		dev.Responses() <- Response{Topic: RespStreamInData, Payload: eraseAckFrame(t)}
		backend.mu.Lock()
		backend.sent = nil
		backend.mu.Unlock()
	}

	for _, region := range want {
		topic := "h/mem/c/" + region + "/!erase#"
		waitFor(t, time.Second, func() bool {
			_, ok := broker.find(topic)
			return ok
		})
		msg, _ := broker.find(topic)
		if msg.value != 0 {
			t.Fatalf("region %s erase status = %v, want 0", region, msg.value)
		}
	}

	waitFor(t, time.Second, func() bool {
		_, ok := broker.find("h/mem/c/*/!erase#")
		return ok
	})
	msg, _ := broker.find("h/mem/c/*/!erase#")
	if msg.value != 0 {
		t.Fatalf("batch erase status = %v, want 0", msg.value)
	}
}

func eraseAckFrame(t *testing.T) []byte {
	t.Helper()
	codec := frame.NewCodec()
	buf, err := codec.EncodeData(frame.ServiceLink, 0, []byte{0x00, 0, 0, 0})
	if err != nil {
		t.Fatalf("encode erase ack: %v", err)
	}
	return buf
}
