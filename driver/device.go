// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
	"github.com/go-lpc/jsdrv/alert"
	"github.com/go-lpc/jsdrv/calib"
	"github.com/go-lpc/jsdrv/conn"
	"github.com/go-lpc/jsdrv/frame"
	"github.com/go-lpc/jsdrv/memop"
	"github.com/go-lpc/jsdrv/stream"
	"github.com/go-lpc/jsdrv/suppress"
)

// stateTimeout identifies which of the three timeout-bearing states a timer
// belongs to.
type stateTimeout int

const (
	stateTimeoutPubSubFlush stateTimeout = iota
	stateTimeoutLinkDisconnect
	stateTimeoutLLClosePend
	numStateTimeouts
)

// defaultQueueWait is the ceiling the event loop blocks on while both
// queues are empty, so it can still notice an expired handshake timer even
// when no Command or Response arrives.
const defaultQueueWait = 5 * time.Second

// Device orchestrates one instrument connection: the frame codec, the
// stream decompressor/reassembler per port, the optional current-range
// suppressor, the memory-op coordinator, and the connection state machine,
// all driven by a single-goroutine cooperative loop reading Command and
// Response off their respective queues.
type Device struct {
	backend Backend
	broker  Broker
	msg     *log.Logger

	codec *frame.Codec
	fsm   *conn.FSM

	portMap      map[int]stream.Port
	reassemblers map[int]*stream.Reassembler
	suppressor   *suppress.Processor
	lastV        float64
	lastRange    uint8

	calibration calib.Calibration
	haveCalib   bool

	memop      *memop.Coordinator
	chunkSize  int
	bufferSize int
	eraseBatch bool

	calib  *calib.Store
	mailer *alert.Mailer

	cmdQ      chan Command
	respQ     chan Response
	queueWait time.Duration

	timeouts [numStateTimeouts]time.Duration
	deadline time.Time
	hasAlarm bool

	quit chan struct{}
}

// New returns a Device wired to backend and broker, configured by opts.
// Event dispatch begins once Run is called.
func New(backend Backend, broker Broker, opts ...Option) *Device {
	d := &Device{
		backend:      backend,
		broker:       broker,
		msg:          log.New(os.Stdout, "jsdrv: ", 0),
		codec:        frame.NewCodec(),
		portMap:      stream.DefaultPortMap(),
		reassemblers: make(map[int]*stream.Reassembler),
		chunkSize:    486,
		bufferSize:   8192,
		cmdQ:         make(chan Command, 256),
		respQ:        make(chan Response, 256),
		queueWait:    defaultQueueWait,
		quit:         make(chan struct{}),
	}
	for i := range d.timeouts {
		d.timeouts[i] = time.Second
	}

	d.fsm = conn.New(d)
	d.lastRange = suppress.RangeOff

	for _, opt := range opts {
		opt(d)
	}

	d.memop = memop.NewCoordinator(d, d.chunkSize, d.bufferSize)
	for id, port := range d.portMap {
		if port.IsReserved() {
			continue
		}
		d.reassemblers[id] = stream.NewReassembler(port)
	}

	return d
}

// Commands returns the channel callers enqueue application-originated
// requests on.
func (d *Device) Commands() chan<- Command { return d.cmdQ }

// Responses returns the channel the backend enqueues completions and
// inbound frame data on.
func (d *Device) Responses() chan<- Response { return d.respQ }

// Run executes the cooperative event loop until ctx is cancelled or the
// connection state machine reaches its terminal finalized state (following
// a call to Finalize). It returns ctx.Err() in the former case, nil in the
// latter.
func (d *Device) Run(ctx context.Context) error {
	for {
		wait := d.queueWait
		if d.hasAlarm {
			if rem := time.Until(d.deadline); rem < wait {
				wait = rem
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-d.quit:
			timer.Stop()
			return nil
		case cmd := <-d.cmdQ:
			timer.Stop()
			d.dispatchCommand(cmd)
		case resp := <-d.respQ:
			timer.Stop()
			d.dispatchResponse(resp)
		case <-timer.C:
			if d.hasAlarm && !time.Now().Before(d.deadline) {
				d.hasAlarm = false
				d.fsm.Handle(conn.EvTimeout)
			}
		}

		if d.fsm.State() == conn.StateLLClosePend {
			d.fsm.Handle(conn.EvAdvance)
		}

		if d.fsm.State() == conn.StateFinalized {
			return nil
		}
	}
}

// Finalize requests a graceful shutdown of Run's loop: any open connection
// is walked through its normal close sequence before the loop exits.
func (d *Device) Finalize() {
	d.fsm.Finalize()
}

// SetCalibration installs the per-range gain/offset correction applied,
// from this point on, to each front-panel current sample and the latched
// voltage before they enter the current-range suppressor. cmd/jsdrvd loads
// it from a calib.Store, keyed by device serial, at startup; until it is
// called the pipeline runs on raw decoded values.
func (d *Device) SetCalibration(cal calib.Calibration) {
	d.calibration = cal
	d.haveCalib = true
}

// armTimeout schedules an EvTimeout after the duration configured for
// which, overwriting any previously armed timer.
func (d *Device) armTimeout(which stateTimeout) {
	d.deadline = time.Now().Add(d.timeouts[which])
	d.hasAlarm = true
}

func (d *Device) disarmTimeout() {
	d.hasAlarm = false
}

// dispatchCommand routes one application-originated request by topic: a
// fixed verb (!open, !close, !finalize, hard reset), a memory-op request
// (h/mem/{c,s}/{region}/{verb}), or a generic pubsub publish forwarded to
// whichever open-state value-exchange topic it names. There is no
// link-level ping verb: a ping topic goes out as an ordinary pubsub publish.
func (d *Device) dispatchCommand(cmd Command) {
	switch cmd.Topic {
	case topicOpen:
		d.fsm.Handle(conn.EvAPIOpen)
		return
	case topicClose:
		d.fsm.Handle(conn.EvAPIClose)
		return
	case topicFinalize:
		d.fsm.Finalize()
		return
	case topicReset:
		d.fsm.Handle(conn.EvReset)
		return
	}

	if req, ok := parseMemTopic(cmd.Topic); ok {
		d.dispatchMemCommand(cmd.Topic, req, cmd.Value)
		return
	}

	if isPubSubTopic(cmd.Topic) {
		d.dispatchPubSubCommand(cmd.Topic, cmd.Value)
		return
	}

	d.msg.Printf("dropping command on unrecognized topic %q", cmd.Topic)
}

// dispatchPubSubCommand forwards an application-originated publish to the
// device as a pubsub data frame, but only while the connection is open:
// §9(b) gates every outbound pubsub write on StateOpen, logging and
// dropping anything else rather than queuing it for later delivery.
func (d *Device) dispatchPubSubCommand(topic string, value []byte) {
	if d.fsm.State() != conn.StateOpen {
		d.msg.Printf("debug: dropping pubsub publish to %q, connection not open (state=%v)", topic, d.fsm.State())
		return
	}

	metadata, payload, err := encodePubSub(topic, ValueBin, value)
	if err != nil {
		d.msg.Printf("could not encode pubsub publish to %q: %+v", topic, err)
		return
	}

	buf, err := d.codec.EncodeData(frame.ServicePubSub, metadata, payload)
	if err != nil {
		d.msg.Printf("could not frame pubsub publish to %q: %+v", topic, err)
		return
	}
	if err := d.backend.Send(buf); err != nil {
		d.msg.Printf("could not send pubsub publish to %q: %+v", topic, err)
	}
}

func (d *Device) dispatchMemCommand(topic string, req memRequest, value []byte) {
	if req.verb == "!erase" && req.region == "*" {
		d.startBatchErase(topic, req.target)
		return
	}
	if d.eraseBatch {
		d.msg.Printf("dropping memory-op %q: batch erase in progress", topic)
		d.PublishStatus(topic, 1)
		return
	}

	switch req.verb {
	case "!erase":
		_ = d.memop.StartErase(topic, req.target, req.region)
	case "!write":
		_ = d.memop.StartWrite(topic, req.target, req.region, value)
	case "!read":
		var length uint32
		if len(value) >= 4 {
			length = binary.LittleEndian.Uint32(value)
		}
		_ = d.memop.StartRead(topic, req.target, req.region, length)
	}
}

// startBatchErase erases every named region of target one after another
// through the device's single memory-op coordinator, publishing each
// region's own status along the way and a combined status on topic once
// the whole batch completes. Regions are chained rather than run
// concurrently: the instrument's memory-op protocol tracks exactly one
// in-flight operation per device, and its acks carry no region tag to
// demultiplex, so a "h/mem/{c|s}/*/!erase" request cannot fan out the way
// an independent per-region Coordinator pool would.
func (d *Device) startBatchErase(topic string, target memop.Target) {
	if d.eraseBatch {
		d.msg.Printf("dropping batch erase %q: one already in progress", topic)
		d.PublishStatus(topic, 1)
		return
	}
	d.eraseBatch = true
	d.eraseNextRegion(topic, target, memop.RegionNames(target), 0, false)
}

func (d *Device) eraseNextRegion(topic string, target memop.Target, regions []string, i int, failed bool) {
	if i >= len(regions) {
		d.memop.SetOnComplete(nil)
		d.eraseBatch = false
		status := 0
		if failed {
			status = 1
		}
		d.PublishStatus(topic, status)
		return
	}

	regionTopic := fmt.Sprintf("h/mem/%s/%s/!erase", target, regions[i])
	d.memop.SetOnComplete(func(err error) {
		d.eraseNextRegion(topic, target, regions, i+1, failed || err != nil)
	})
	if err := d.memop.StartErase(regionTopic, target, regions[i]); err != nil {
		d.eraseNextRegion(topic, target, regions, i+1, true)
	}
}

// dispatchResponse routes one backend-originated completion or inbound
// frame. Well-known topics report straight to the state machine; anything
// else is treated as raw inbound frame bytes.
func (d *Device) dispatchResponse(resp Response) {
	switch resp.Topic {
	case RespBackendOpenAck:
		d.fsm.Handle(conn.EvBackendOpenAck)
		return
	case RespBackendOpenNack:
		d.fsm.Handle(conn.EvBackendOpenNack)
		return
	case RespBackendBulkAck:
		d.fsm.Handle(conn.EvBackendBulkAck)
		return
	case RespBackendBulkNack:
		d.fsm.Handle(conn.EvBackendBulkNack)
		return
	case RespBackendCloseAck:
		d.fsm.Handle(conn.EvBackendCloseAck)
		return
	case RespStreamInData, RespBulkOutData:
		d.handleInboundFrame(resp.Payload)
		return
	}

	d.handleInboundFrame(resp.Payload)
}

// handleInboundFrame decodes one raw inbound frame and routes it by type:
// link-control frames drive the state machine directly, data frames are
// dispatched by service.
func (d *Device) handleInboundFrame(buf []byte) {
	f, err := d.codec.Decode(buf)
	if err != nil {
		d.msg.Printf("could not decode inbound frame: %+v", err)
		if xerrors.Is(err, jsdrv.ErrFraming) {
			d.notifyProtocolFault("framing error decoding inbound frame", err)
		}
		return
	}

	if f.IsControl() {
		d.handleControlFrame(f)
		return
	}

	if f.FrameIDGap {
		d.msg.Printf("frame-id gap detected on inbound frame %d", f.FrameID)
	}
	if f.LengthCheckFailed {
		d.msg.Printf("length_check mismatch on inbound frame %d", f.FrameID)
	}

	switch f.Service {
	case frame.ServiceLink:
		d.handleLinkService(f)
	case frame.ServicePubSub:
		d.handlePubSubFrame(f)
	case frame.ServiceTrace:
		d.handleTraceFrame(f)
	case frame.ServiceThroughput:
		// Accounting only; nothing downstream consumes it yet.
	}
}

func (d *Device) handleControlFrame(f frame.Frame) {
	switch f.Type {
	case frame.TypeControl:
		switch frame.LinkSubtype(f.FrameID) {
		case frame.LinkResetRequest:
			d.fsm.Handle(conn.EvLinkResetReq)
		case frame.LinkResetAck:
			d.fsm.Handle(conn.EvLinkResetAck)
		case frame.LinkDisconnectAck:
			d.fsm.Handle(conn.EvLinkDisconnectAck)
		}
	case frame.TypeNackFraming:
		d.msg.Printf("link requested resync to frame_id %d", f.Resync)
	case frame.TypeNackFrameID, frame.TypeAckAll, frame.TypeAckOne:
		// Link-layer retransmission bookkeeping, handled below Device.
	}
}

func (d *Device) handleLinkService(f frame.Frame) {
	if len(f.Payload) < 1 {
		return
	}
	switch f.Payload[0] {
	case 0x00: // erase ack
		d.memop.HandleEraseAck()
	case 0x01: // write-start ack
		d.memop.HandleWriteStartAck()
	case 0x02: // write-data ack
		if len(f.Payload) >= 5 {
			offset := binary.LittleEndian.Uint32(f.Payload[1:5])
			if err := d.memop.HandleWriteDataAck(offset); err != nil {
				d.notifyProtocolFault("memory write lost synchronization", err)
			}
		}
	case 0x03: // write-finalize ack
		d.memop.HandleWriteFinalizeAck()
	case 0x04: // read-req ack
		d.memop.HandleReadReqAck()
	case 0x05: // read-data chunk
		if len(f.Payload) >= 5 {
			offset := binary.LittleEndian.Uint32(f.Payload[1:5])
			d.memop.HandleReadData(offset, f.Payload[5:])
		}
	case 0x06: // read-terminate
		d.memop.HandleReadTerminate()
	}
}

// handlePubSubFrame decodes an inbound pubsub data frame. The sentinel ping
// topic drives the flush-handshake echo check directly; everything else is
// republished to application subscribers.
func (d *Device) handlePubSubFrame(f frame.Frame) {
	topic, _, value, err := decodePubSub(f.Metadata, f.Payload)
	if err != nil {
		d.msg.Printf("could not decode pubsub frame: %+v", err)
		return
	}

	if topic == topicLinkPing {
		d.fsm.PubSubEcho(string(value))
		return
	}

	d.broker.Publish(topic, value)
}

// handleTraceFrame decodes one compressed sample-stream frame and feeds it
// through calibration/suppression/reassembly before publishing.
func (d *Device) handleTraceFrame(f frame.Frame) {
	if len(f.Payload) < 1 {
		return
	}
	portID := int(f.Payload[0])
	port, ok := d.portMap[portID]
	if !ok || port.IsReserved() {
		return
	}

	sampleID, elems, err := stream.Decode(port.Bits, f.Payload[1:])
	if err != nil {
		d.msg.Printf("could not decode stream payload for port %d: %+v", portID, err)
		return
	}

	if d.suppressor != nil && isFrontPanelPort(portID) {
		d.feedFrontPanel(portID, sampleID, elems)
		return
	}

	d.feedPort(portID, sampleID, elems)
}

func (d *Device) publishBuffer(port stream.Port, buf *stream.Buffer) {
	d.broker.Publish(port.DataTopic, buf)
}

// notifyProtocolFault mails the operator, if a Mailer is configured,
// describing a protocol-level fault that the alert package documents as
// its rationale for existing.
func (d *Device) notifyProtocolFault(summary string, err error) {
	if d.mailer == nil {
		return
	}
	body := fmt.Sprintf("%s\n\n%+v\n", summary, err)
	if merr := d.mailer.Notify("jsdrv: "+summary, body); merr != nil {
		d.msg.Printf("could not send fault alert: %+v", merr)
	}
}

// --- conn.Sink ---

func (d *Device) BackendOpen() {
	if err := d.backend.Open(); err != nil {
		d.msg.Printf("backend open failed: %+v", err)
		d.fsm.Handle(conn.EvBackendOpenNack)
	}
}

func (d *Device) BackendBulkOpen() {
	if err := d.backend.BulkOpen(); err != nil {
		d.msg.Printf("backend bulk-open failed: %+v", err)
		d.fsm.Handle(conn.EvBackendBulkNack)
	}
}

func (d *Device) BackendClose() {
	if err := d.backend.Close(); err != nil {
		d.msg.Printf("backend close failed: %+v", err)
	}
	d.fsm.Handle(conn.EvBackendCloseAck)
}

func (d *Device) SendResetRequest() {
	d.codec.Reset()
	d.backendSendControl(d.codec.EncodeReset(frame.LinkResetRequest))
}

func (d *Device) SendResetAck() {
	d.backendSendControl(d.codec.EncodeReset(frame.LinkResetAck))
}

func (d *Device) SendDisconnectRequest() {
	d.armTimeout(stateTimeoutLinkDisconnect)
	d.backendSendControl(d.codec.EncodeReset(frame.LinkDisconnectRequest))
}

func (d *Device) PublishFlushSentinel() {
	d.armTimeout(stateTimeoutPubSubFlush)
	metadata, payload, err := encodePubSub(topicLinkPing, ValueStr, []byte(flushSentinelValue))
	if err != nil {
		d.msg.Printf("could not encode flush sentinel: %+v", err)
		return
	}
	buf, err := d.codec.EncodeData(frame.ServicePubSub, metadata, payload)
	if err != nil {
		d.msg.Printf("could not frame flush sentinel: %+v", err)
		return
	}
	if err := d.backend.Send(buf); err != nil {
		d.msg.Printf("could not send flush sentinel: %+v", err)
	}
}

func (d *Device) ReportOpenStatus(status int) {
	d.disarmTimeout()
	d.broker.Publish(topicOpen+"#", status)
}

func (d *Device) ReportCloseStatus(status int) {
	d.disarmTimeout()
	d.broker.Publish(topicClose+"#", status)
	if status != 0 {
		d.notifyProtocolFault("connection forced closed with non-zero status "+strconv.Itoa(status), xerrors.New("driver: forced close"))
	}
	if d.fsm.State() == conn.StateFinalized {
		close(d.quit)
	}
}

func (d *Device) backendSendControl(buf []byte) {
	if err := d.backend.Send(buf); err != nil {
		d.msg.Printf("could not send link-control frame: %+v", err)
	}
}

// --- memop.Sink ---

func (d *Device) SendErase(target memop.Target, region memop.Region) {
	d.sendMemRequest(0x00, target, region, nil)
}

func (d *Device) SendWriteStart(target memop.Target, region memop.Region, totalLen uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, totalLen)
	d.sendMemRequest(0x01, target, region, b)
}

func (d *Device) SendWriteData(target memop.Target, region memop.Region, offset uint32, data []byte) {
	b := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(b, offset)
	copy(b[4:], data)
	d.sendMemRequest(0x02, target, region, b)
}

func (d *Device) SendWriteFinalize(target memop.Target, region memop.Region) {
	d.sendMemRequest(0x03, target, region, nil)
}

func (d *Device) SendReadReq(target memop.Target, region memop.Region, length uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, length)
	d.sendMemRequest(0x04, target, region, b)
}

func (d *Device) sendMemRequest(verb byte, target memop.Target, region memop.Region, tail []byte) {
	body := make([]byte, 2+len(tail))
	body[0] = verb
	body[1] = byte(region.Index)
	copy(body[2:], tail)

	total := len(body)
	if r := total % 4; r != 0 {
		body = append(body, make([]byte, 4-r)...)
	}

	metadata := uint16(target)
	buf, err := d.codec.EncodeData(frame.ServiceLink, metadata, body)
	if err != nil {
		d.msg.Printf("could not frame memory-op request: %+v", err)
		return
	}
	if err := d.backend.Send(buf); err != nil {
		d.msg.Printf("could not send memory-op request: %+v", err)
	}
}

func (d *Device) PublishStatus(topic string, status int) {
	d.broker.Publish(topic+"#", status)
	if status != 0 {
		d.notifyProtocolFault(fmt.Sprintf("memory operation on %q returned status %d", topic, status), xerrors.New("driver: memory operation failed"))
	}
}

func (d *Device) PublishReadData(topic string, data []byte) {
	d.broker.Publish(strings.TrimSuffix(topic, "!read")+"!rdata", data)
}

// flushSentinelValue is the pubsub value published on the sentinel ping
// topic to drain in-flight traffic before the link-disconnect handshake.
const flushSentinelValue = "h|disconnect"
