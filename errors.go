// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsdrv

import "errors"

// Error kinds shared by the frame codec, connection state machine, stream
// decompressor and memory-op coordinator. Callers compare with errors.Is;
// packages wrap these with additional context via fmt.Errorf("...: %w", ...).
var (
	ErrFraming          = errors.New("jsdrv: framing error")
	ErrLengthCheck      = errors.New("jsdrv: length_check mismatch")
	ErrLinkCheck        = errors.New("jsdrv: link_check mismatch")
	ErrFrameIDGap       = errors.New("jsdrv: frame_id gap")
	ErrStreamDecode     = errors.New("jsdrv: stream decode error")
	ErrParameterInvalid = errors.New("jsdrv: invalid parameter")
	ErrPayloadSize      = errors.New("jsdrv: invalid payload size")
	ErrNotFound         = errors.New("jsdrv: device not found")
	ErrInUse            = errors.New("jsdrv: device already open")
	ErrTimedOut         = errors.New("jsdrv: operation timed out")
	ErrSynchronization  = errors.New("jsdrv: offset synchronization error")
	ErrAborted          = errors.New("jsdrv: operation aborted")
	ErrTooBig           = errors.New("jsdrv: request too big")
)
