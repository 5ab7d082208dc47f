// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command jsdrvd hosts one driver.Device per attached instrument and
// exposes them over a tdaq server: a handful of fixed command paths for
// the connection lifecycle, a generic command path for everything else
// (memory operations, arbitrary pubsub topics), and an output path
// streaming published topic/value pairs back to subscribers.
package main // import "github.com/go-lpc/jsdrv/cmd/jsdrvd"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"golang.org/x/sync/errgroup"

	"github.com/go-lpc/jsdrv/alert"
	"github.com/go-lpc/jsdrv/calib"
	"github.com/go-lpc/jsdrv/config"
	"github.com/go-lpc/jsdrv/driver"
	"github.com/go-lpc/jsdrv/monitor"
	"github.com/go-lpc/jsdrv/suppress"
)

func main() {
	cmd := flags.New()

	names := cmd.Args
	if len(names) == 0 {
		names = []string{"dev0"}
	}

	cfgPath := os.Getenv("JSDRV_CONFIG")
	if cfgPath == "" {
		cfgPath = "jsdrvd.yml"
	}
	cfg := config.Load(cfgPath)

	ctlAddr := os.Getenv("JSDRV_CTL_ADDR")
	if ctlAddr == "" {
		ctlAddr = ":7070"
	}

	srv := newServer(cfg, names)
	srv.ctlAddr = ctlAddr

	tsrv := tdaq.New(cmd, os.Stdout)
	tsrv.CmdHandle("/open", srv.onOpen)
	tsrv.CmdHandle("/close", srv.onClose)
	tsrv.CmdHandle("/finalize", srv.onFinalize)
	tsrv.CmdHandle("/command", srv.onCommand)
	tsrv.OutputHandle("/events", srv.onEvents)
	tsrv.RunHandle(srv.run)

	err := tsrv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// event is the JSON body streamed out over /events: one topic publish
// from one device's broker, in the order devices raised it.
type event struct {
	Device string      `json:"device"`
	Topic  string      `json:"topic"`
	Value  interface{} `json:"value"`
}

type server struct {
	msg *log.Logger

	devs    map[string]*driver.Device
	backend map[string]*debugBackend

	events  chan event
	ctlAddr string

	mailer  *alert.Mailer
	calib   *calib.Store
	monitor *monitor.Sampler
}

func newServer(cfg *config.Config, names []string) *server {
	srv := &server{
		msg:     log.New(os.Stdout, "jsdrvd: ", 0),
		devs:    make(map[string]*driver.Device),
		backend: make(map[string]*debugBackend),
		events:  make(chan event, 4096),
	}

	if cfg.Alert.Host != "" {
		srv.mailer = alert.New(cfg.Alert.Host, cfg.Alert.Port, cfg.Alert.User, cfg.Alert.Pass, cfg.Alert.From, cfg.Alert.To)
	}

	if cfg.Calib.Database != "" {
		store, err := calib.Open(cfg.Calib.Database, cfg.Calib.User, cfg.Calib.Password)
		if err != nil {
			srv.msg.Printf("could not open calibration store: %+v", err)
		} else {
			srv.calib = store
		}
	}

	if cfg.Monitor.Enabled {
		sampler, err := monitor.New(os.Stdout, cfg.Monitor.Freq, srv.queueDepth)
		if err != nil {
			srv.msg.Printf("could not start process monitor: %+v", err)
		} else {
			srv.monitor = sampler
		}
	}

	for _, name := range names {
		broker := &deviceBroker{name: name, out: srv.events}
		backend := newDebugBackend(name)

		opts := []driver.Option{
			driver.WithQueueSize(cfg.Queue.CmdSize, cfg.Queue.RespSize),
			driver.WithMemOp(cfg.MemOp.ChunkSize, cfg.MemOp.BufferSize),
			driver.WithTimeouts(cfg.Timeout.PubSubFlush, cfg.Timeout.LinkDisconnect, cfg.Timeout.LLClosePend),
		}
		if cfg.Suppress.Enabled {
			mode := suppressMode(cfg.Suppress.Mode)
			matrix := suppressMatrix(cfg.Suppress.Matrix)
			opts = append(opts, driver.WithSuppressor(suppress.NewProcessor(cfg.Suppress.Pre, cfg.Suppress.Window, cfg.Suppress.Post, mode, matrix)))
		}
		if srv.calib != nil {
			opts = append(opts, driver.WithCalib(srv.calib))
		}
		if srv.mailer != nil {
			opts = append(opts, driver.WithMailer(srv.mailer))
		}

		dev := driver.New(backend, broker, opts...)
		backend.respQ = dev.Responses()

		if srv.calib != nil {
			go srv.loadCalibration(dev, name)
		}

		srv.devs[name] = dev
		srv.backend[name] = backend
	}

	return srv
}

func (srv *server) loadCalibration(dev *driver.Device, serial string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cal, err := srv.calib.Load(ctx, serial)
	if err != nil {
		srv.msg.Printf("could not load calibration for %q: %+v", serial, err)
		return
	}
	dev.SetCalibration(cal)
}

func (srv *server) queueDepth() (cmd, resp int) {
	for _, b := range srv.backend {
		cmd += b.sentCount()
	}
	return cmd, 0
}

func (srv *server) run(ctx tdaq.Context) error {
	grp, gctx := errgroup.WithContext(ctx.Ctx)
	for name, dev := range srv.devs {
		name, dev := name, dev
		grp.Go(func() error {
			ctx.Msg.Infof("starting device %q...", name)
			err := dev.Run(gctx)
			ctx.Msg.Infof("device %q stopped: %v", name, err)
			return nil
		})
	}

	if srv.monitor != nil {
		go func() {
			if err := srv.monitor.Run(); err != nil {
				ctx.Msg.Errorf("process monitor stopped: %+v", err)
			}
		}()
	}

	ctl, err := srv.serveCtl(gctx)
	if err != nil {
		ctx.Msg.Errorf("could not start control listener: %+v", err)
	} else {
		ctx.Msg.Infof("jsdrv-shell control listener on %q", srv.ctlAddr)
		defer ctl.Close()
	}

	<-gctx.Done()
	_ = grp.Wait()
	if srv.monitor != nil {
		srv.monitor.Stop()
	}
	return nil
}

func (srv *server) onOpen(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	return srv.forwardAll(ctx, "!open", nil)
}

func (srv *server) onClose(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	return srv.forwardAll(ctx, "!close", nil)
}

func (srv *server) onFinalize(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	for _, dev := range srv.devs {
		dev.Finalize()
	}
	return nil
}

func (srv *server) forwardAll(ctx tdaq.Context, topic string, value []byte) error {
	for name, dev := range srv.devs {
		select {
		case dev.Commands() <- driver.Command{Topic: topic, Value: value}:
		default:
			ctx.Msg.Errorf("command queue full for device %q, dropping %q", name, topic)
		}
	}
	return nil
}

func (srv *server) onCommand(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	var env ctlRequest
	if err := json.Unmarshal(req.Body, &env); err != nil {
		ctx.Msg.Errorf("could not decode /command body: %+v", err)
		return fmt.Errorf("jsdrvd: could not decode command: %w", err)
	}

	dev, ok := srv.devs[env.Device]
	if !ok {
		ctx.Msg.Errorf("unknown device %q", env.Device)
		return fmt.Errorf("jsdrvd: unknown device %q", env.Device)
	}

	select {
	case dev.Commands() <- driver.Command{Topic: env.Topic, Value: env.Value}:
	case <-ctx.Ctx.Done():
		return ctx.Ctx.Err()
	}
	return nil
}

func (srv *server) onEvents(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case ev := <-srv.events:
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("jsdrvd: could not encode event: %w", err)
		}
		dst.Body = body
	}
	return nil
}

func suppressMode(s string) suppress.Mode {
	switch s {
	case "nan":
		return suppress.ModeNaN
	case "interp":
		return suppress.ModeInterp
	default:
		return suppress.ModeOff
	}
}

func suppressMatrix(s string) *[9][9]uint8 {
	if s == "aggressive" {
		return &suppress.MatrixAggressive
	}
	return &suppress.MatrixConservative
}
