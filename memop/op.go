// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memop

// Op is the verb a Coordinator is currently executing.
type Op int

const (
	OpNone Op = iota
	OpErase
	OpWriteStart
	OpWriteData
	OpWriteFinalize
	OpReadReq
	OpReadData
)

func (op Op) String() string {
	switch op {
	case OpNone:
		return "none"
	case OpErase:
		return "erase"
	case OpWriteStart:
		return "write-start"
	case OpWriteData:
		return "write-data"
	case OpWriteFinalize:
		return "write-finalize"
	case OpReadReq:
		return "read-req"
	case OpReadData:
		return "read-data"
	default:
		return "unknown"
	}
}
