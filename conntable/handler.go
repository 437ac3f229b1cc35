// File: conntable/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import (
	"github.com/momentics/hioload-conntable/core/protocol"
	"github.com/momentics/hioload-conntable/internal/concurrency"
)

// eventBatch is the number of readiness events fetched per Wait.
const eventBatch = 128

type msgKind uint8

const (
	msgRegister msgKind = iota
	msgUnregister
	msgData
	msgShutdown
)

// handlerMsg is the unit exchanged through reader and writer inboxes.
type handlerMsg struct {
	kind msgKind
	conn *Connection
	req  *writeRequest
}

// writeRequest is one frame queued for a connection. hdrOff and bodyOff
// persist partial progress across writability events.
type writeRequest struct {
	conn    *Connection
	header  [protocol.HeaderSize]byte
	payload []byte
	hdrOff  int
	bodyOff int
	future  *concurrency.Future
}

func newWriteRequest(c *Connection, payload []byte) *writeRequest {
	req := &writeRequest{conn: c, payload: payload, future: concurrency.NewFuture()}
	protocol.PutHeader(&req.header, len(payload))
	return req
}

// iov returns the unwritten parts of the frame.
func (r *writeRequest) iov(dst [][]byte) [][]byte {
	if r.hdrOff < len(r.header) {
		dst = append(dst, r.header[r.hdrOff:])
	}
	if r.bodyOff < len(r.payload) {
		dst = append(dst, r.payload[r.bodyOff:])
	}
	return dst
}

// advance records n more bytes written.
func (r *writeRequest) advance(n int) {
	if h := len(r.header) - r.hdrOff; h > 0 {
		if n < h {
			r.hdrOff += n
			return
		}
		r.hdrOff = len(r.header)
		n -= h
	}
	r.bodyOff += n
}

func (r *writeRequest) done() bool {
	return r.hdrOff == len(r.header) && r.bodyOff == len(r.payload)
}
