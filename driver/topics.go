// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"strings"

	"github.com/go-lpc/jsdrv/memop"
)

const (
	topicOpen     = "!open"
	topicClose    = "!close"
	topicFinalize = "!finalize"
	topicLinkPing = "h/link/!ping"
	topicReset    = "h/!reset"
)

type memRequest struct {
	target memop.Target
	region string
	verb   string // "!erase", "!write", "!read"
}

// parseMemTopic recognizes "h/mem/{c|s}/{region}/{!erase|!write|!read}".
// A region of "*" is valid syntax for any verb; dispatchMemCommand treats
// "*" combined with !erase as a batch-erase request and rejects it for
// !write/!read as an unresolvable region.
func parseMemTopic(topic string) (memRequest, bool) {
	if !strings.HasPrefix(topic, "h/mem/") {
		return memRequest{}, false
	}
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return memRequest{}, false
	}

	var target memop.Target
	switch parts[2] {
	case "c":
		target = memop.TargetController
	case "s":
		target = memop.TargetSensor
	default:
		return memRequest{}, false
	}

	switch parts[4] {
	case "!erase", "!write", "!read":
	default:
		return memRequest{}, false
	}

	return memRequest{target: target, region: parts[3], verb: parts[4]}, true
}

// isPubSubTopic reports whether topic is forwarded as a generic pubsub
// publish rather than handled by a dedicated verb above.
func isPubSubTopic(topic string) bool {
	return strings.HasPrefix(topic, "h/") || strings.HasPrefix(topic, ".")
}
