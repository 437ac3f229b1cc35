// File: core/protocol/frame_codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Length-prefixed frame codec. A frame is a 4-byte big-endian payload length
// followed by the payload. FrameDecoder is the incremental read state machine
// driven by the reader loop: it tolerates any split of the byte stream.

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/momentics/hioload-conntable/api"
)

// Phase of a FrameDecoder.
type Phase uint8

const (
	AwaitingHeader Phase = iota
	AwaitingBody
)

func (p Phase) String() string {
	if p == AwaitingHeader {
		return "awaiting-header"
	}
	return "awaiting-body"
}

// PutHeader writes the length header for a payload of n bytes into dst.
func PutHeader(dst *[HeaderSize]byte, n int) {
	binary.BigEndian.PutUint32(dst[:], uint32(n))
}

// AppendFrame appends a complete frame for payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxInt32 {
		return dst, api.ErrFrameTooLarge
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// FrameDecoder incrementally decodes frames. The zero value is ready to use
// with no size limit beyond math.MaxInt32.
type FrameDecoder struct {
	header  [HeaderSize]byte
	hdrN    int
	body    []byte
	bodyN   int
	phase   Phase
	maxSize int
}

// NewFrameDecoder returns a decoder rejecting payloads above maxSize (0 = no limit).
func NewFrameDecoder(maxSize int) *FrameDecoder {
	return &FrameDecoder{maxSize: maxSize}
}

// Phase returns the current phase.
func (d *FrameDecoder) Phase() Phase { return d.phase }

// Buffer returns the slice the next read must fill. It is never empty.
func (d *FrameDecoder) Buffer() []byte {
	if d.phase == AwaitingHeader {
		return d.header[d.hdrN:]
	}
	return d.body[d.bodyN:]
}

// Advance records that n bytes were read into the slice returned by Buffer.
// It returns the payload when a frame completes; the decoder is then reset
// for the next frame and the payload belongs to the caller.
func (d *FrameDecoder) Advance(n int) ([]byte, bool, error) {
	if n < 0 || n > len(d.Buffer()) {
		return nil, false, fmt.Errorf("%w: advance %d beyond buffer", api.ErrInvalidArgument, n)
	}
	if d.phase == AwaitingHeader {
		d.hdrN += n
		if d.hdrN < HeaderSize {
			return nil, false, nil
		}
		size := binary.BigEndian.Uint32(d.header[:])
		if size > math.MaxInt32 || (d.maxSize > 0 && int(size) > d.maxSize) {
			return nil, false, fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, size)
		}
		d.body = make([]byte, int(size))
		d.bodyN = 0
		d.phase = AwaitingBody
		if size == 0 {
			return d.finish(), true, nil
		}
		return nil, false, nil
	}
	d.bodyN += n
	if d.bodyN < len(d.body) {
		return nil, false, nil
	}
	return d.finish(), true, nil
}

func (d *FrameDecoder) finish() []byte {
	frame := d.body
	d.body = nil
	d.bodyN = 0
	d.hdrN = 0
	d.phase = AwaitingHeader
	return frame
}
