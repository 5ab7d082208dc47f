// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/go-lpc/jsdrv/driver"
)

// ctlRequest mirrors eda-ctl's {name, args} envelope, specialized to one
// (device, topic, value) command forwarded onto that device's Commands()
// channel.
type ctlRequest struct {
	Device string `json:"device"`
	Topic  string `json:"topic"`
	Value  []byte `json:"value"`
}

// ctlReply mirrors eda/server.go's reply(): "ok" on success, the error
// text otherwise.
type ctlReply struct {
	Msg string `json:"msg"`
	Err string `json:"err,omitempty"`
}

// serveCtl starts jsdrv-shell's plain JSON-over-TCP control listener,
// independent of the tdaq command/output surface: an operator's shell
// session has no need to be a tdaq client itself, it only needs to push
// topic/value pairs at a running daemon, mirroring eda-ctl's standalone
// net.Listen server rather than tdaq's fixed-path dispatch.
func (srv *server) serveCtl(ctx context.Context) (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.ctlAddr)
	if err != nil {
		return nil, fmt.Errorf("jsdrvd: could not listen on %q: %w", srv.ctlAddr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleCtl(conn)
		}
	}()

	return ln, nil
}

func (srv *server) handleCtl(conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req ctlRequest
		if err := dec.Decode(&req); err != nil {
			return
		}

		dev, ok := srv.devs[req.Device]
		if !ok {
			_ = enc.Encode(ctlReply{Err: fmt.Sprintf("unknown device %q", req.Device)})
			continue
		}

		select {
		case dev.Commands() <- driver.Command{Topic: req.Topic, Value: req.Value}:
			_ = enc.Encode(ctlReply{Msg: "ok"})
		default:
			_ = enc.Encode(ctlReply{Err: "command queue full"})
		}
	}
}
