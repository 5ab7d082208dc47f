// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command jsdrv-shell is an interactive console for a running jsdrvd: it
// reads "[@device] <topic> [value]" lines, forwards each as a JSON request
// to jsdrvd's control listener, and prints the reply.
package main // import "github.com/go-lpc/jsdrv/cmd/jsdrv-shell"

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	var (
		addr    = flag.String("addr", "localhost:7070", "jsdrvd control address")
		device  = flag.String("device", "dev0", "default device name")
		history = flag.String("history", "", "path to a history file (disabled if empty)")
	)
	flag.Parse()

	log.SetPrefix("jsdrv-shell: ")
	log.SetFlags(0)

	if err := run(*addr, *device, *history); err != nil {
		log.Fatalf("error: %+v", err)
	}
}

type request struct {
	Device string `json:"device"`
	Topic  string `json:"topic"`
	Value  []byte `json:"value"`
}

type reply struct {
	Msg string `json:"msg"`
	Err string `json:"err,omitempty"`
}

func run(addr, defaultDevice, historyPath string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not connect to jsdrvd at %q: %w", addr, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if historyPath != "" {
		loadHistory(line, historyPath)
		defer saveHistory(line, historyPath)
	}

	fmt.Printf("connected to jsdrvd at %q (default device %q)\n", addr, defaultDevice)
	fmt.Println(`type "!open", "h/link/!ping <value>", "h/mem/c/app/!erase", or "@<device> <topic> [value]" to target another device; Ctrl-D to quit`)

	for {
		text, err := line.Prompt("jsdrv> ")
		if err == liner.ErrPromptAborted || err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		req, err := parseLine(text, defaultDevice)
		if err != nil {
			fmt.Printf("error: %+v\n", err)
			continue
		}

		if err := enc.Encode(req); err != nil {
			return fmt.Errorf("could not send request: %w", err)
		}

		var rep reply
		if err := dec.Decode(&rep); err != nil {
			return fmt.Errorf("could not read reply: %w", err)
		}
		if rep.Err != "" {
			fmt.Printf("error: %s\n", rep.Err)
		} else {
			fmt.Printf("%s\n", rep.Msg)
		}
	}
}

// parseLine turns one console line into a request. A leading "@name"
// overrides the default device for that one command; everything after the
// topic, if present, becomes the command's raw value bytes.
func parseLine(text, defaultDevice string) (request, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return request{}, fmt.Errorf("empty command")
	}

	device := defaultDevice
	if strings.HasPrefix(fields[0], "@") {
		device = strings.TrimPrefix(fields[0], "@")
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return request{}, fmt.Errorf("missing topic")
	}

	req := request{Device: device, Topic: fields[0]}
	if len(fields) > 1 {
		req.Value = []byte(strings.Join(fields[1:], " "))
	}
	return req, nil
}

func loadHistory(line *liner.State, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.ReadHistory(f)
}

func saveHistory(line *liner.State, path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("could not save history to %q: %+v", path, err)
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
