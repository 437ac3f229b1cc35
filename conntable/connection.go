// File: conntable/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/core/protocol"
	"github.com/momentics/hioload-conntable/internal/concurrency"
)

// Connection is one TCP connection to a peer. The table's map owns it;
// the reader and writer it is bound to refer to it by id.
type Connection struct {
	id       uint64
	peer     api.Address
	conn     *net.TCPConn
	raw      syscall.RawConn
	outbound bool
	created  time.Time

	// touched only by the reader goroutine
	decoder *protocol.FrameDecoder

	reader *readHandler
	writer *writeHandler

	lastAccessed atomic.Int64 // unix nanoseconds
	running      atomic.Bool
	destroyOnce  sync.Once
}

func newConnection(id uint64, c *net.TCPConn, raw syscall.RawConn, peer api.Address, outbound bool, maxFrame int) *Connection {
	conn := &Connection{
		id:       id,
		peer:     peer,
		conn:     c,
		raw:      raw,
		outbound: outbound,
		created:  time.Now(),
		decoder:  protocol.NewFrameDecoder(maxFrame),
	}
	conn.running.Store(true)
	conn.touch()
	return conn
}

// Peer returns the peer's listening address announced in the handshake.
func (c *Connection) Peer() api.Address { return c.peer }

// Outbound reports whether this side initiated the connection.
func (c *Connection) Outbound() bool { return c.outbound }

// LastAccessed returns the time of the last frame sent or received.
func (c *Connection) LastAccessed() time.Time {
	return time.Unix(0, c.lastAccessed.Load())
}

// LocalAddr returns the socket's local address.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the socket's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// IsRunning reports whether the connection has not been destroyed.
func (c *Connection) IsRunning() bool { return c.running.Load() }

func (c *Connection) String() string {
	dir := "inbound"
	if c.outbound {
		dir = "outbound"
	}
	return fmt.Sprintf("<%s %s -> %s, peer=%s, last access %s ago>",
		dir, c.conn.LocalAddr(), c.conn.RemoteAddr(), c.peer,
		time.Since(c.LastAccessed()).Truncate(time.Millisecond))
}

func (c *Connection) touch() {
	c.lastAccessed.Store(time.Now().UnixNano())
}

// send queues data on the connection's writer. The returned future resolves
// once the frame is fully written or has failed.
func (c *Connection) send(data []byte) *concurrency.Future {
	req := newWriteRequest(c, data)
	if !c.IsRunning() {
		req.future.Complete(api.IOError(c.peer, api.ErrConnectionClosed))
		return req.future
	}
	if c.writer == nil || !c.writer.submit(req) {
		req.future.Complete(api.ErrStopped)
		return req.future
	}
	c.touch()
	return req.future
}

// destroy closes the socket and detaches the connection from its handlers.
// It is idempotent and safe from any goroutine.
func (c *Connection) destroy() {
	c.destroyOnce.Do(func() {
		c.running.Store(false)
		_ = c.conn.Close()
		if c.reader != nil {
			c.reader.unregister(c)
		}
		if c.writer != nil {
			c.writer.unregister(c)
		}
	})
}
