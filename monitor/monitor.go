// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor periodically samples the driver process's own resource
// usage and exposes command/response queue depth as a derived health
// signal. Diagnostic only: nothing here participates in the connection
// state machine or the protocol's correctness surface.
package monitor // import "github.com/go-lpc/jsdrv/monitor"

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sbinet/pmon"
)

// Sampler wraps a pmon.Process monitoring the current process, plus a
// caller-supplied queue-depth probe sampled on the same interval.
type Sampler struct {
	proc  *pmon.Process
	depth func() (cmd, resp int)
	done  chan struct{}
}

// New starts monitoring the current process's resource usage at freq,
// writing pmon's log lines to w. depth, if non-nil, is polled on the same
// interval and its result logged alongside the resource sample.
func New(w io.Writer, freq time.Duration, depth func() (cmd, resp int)) (*Sampler, error) {
	proc, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("monitor: could not start self-monitoring: %w", err)
	}
	proc.W = w
	proc.Freq = freq

	return &Sampler{proc: proc, depth: depth, done: make(chan struct{})}, nil
}

// Run blocks, sampling until Stop is called. Meant to be run on its own
// goroutine, started by the caller alongside (not inside) the device event
// loop.
func (s *Sampler) Run() error {
	if s.depth == nil {
		return s.proc.Run()
	}

	errc := make(chan error, 1)
	go func() { errc <- s.proc.Run() }()

	ticker := time.NewTicker(s.proc.Freq)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			cmd, resp := s.depth()
			fmt.Fprintf(s.proc.W, "queue-depth: cmd=%d resp=%d\n", cmd, resp)
		}
	}
}

// Stop ends monitoring.
func (s *Sampler) Stop() error {
	close(s.done)
	return s.proc.Kill()
}
