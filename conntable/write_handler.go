// File: conntable/write_handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A write handler owns one selector and the pending-frame FIFOs of the
// connections assigned to it. Submissions arrive through its inbox; frames
// are flushed with writev as the sockets become writable, and each request's
// future is completed when its last byte is accepted by the kernel.

package conntable

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/internal/concurrency"
	"github.com/momentics/hioload-conntable/internal/transport"
	"github.com/momentics/hioload-conntable/reactor"
)

// channelState is the per-connection write state of a write handler.
type channelState struct {
	conn       *Connection
	fifo       *queue.Queue // *writeRequest, submission order
	registered bool         // write interest enabled in the selector
}

type writeHandler struct {
	index    int
	table    *Table
	sel      reactor.Selector
	inbox    *concurrency.Mailbox[handlerMsg]
	channels map[uint64]*channelState
	log      zerolog.Logger
	iov      [][]byte
}

func newWriteHandler(t *Table, index int, sel reactor.Selector) *writeHandler {
	return &writeHandler{
		index:    index,
		table:    t,
		sel:      sel,
		inbox:    concurrency.NewMailbox[handlerMsg](func() { _ = sel.Wakeup() }),
		channels: make(map[uint64]*channelState),
		log:      t.log.With().Str("handler", "writer").Int("index", index).Logger(),
		iov:      make([][]byte, 0, 2),
	}
}

// submit queues req. It returns false once the handler has shut down.
func (w *writeHandler) submit(req *writeRequest) bool {
	return w.inbox.Put(handlerMsg{kind: msgData, conn: req.conn, req: req})
}

func (w *writeHandler) unregister(c *Connection) {
	w.inbox.Put(handlerMsg{kind: msgUnregister, conn: c})
}

func (w *writeHandler) shutdown() {
	w.inbox.Put(handlerMsg{kind: msgShutdown})
}

// pending returns the number of submissions not yet taken by the loop.
func (w *writeHandler) pending() int {
	return w.inbox.Len()
}

func (w *writeHandler) run(slot int) error {
	w.table.pinThread(slot, w.log)
	defer w.sel.Close()

	events := make([]reactor.Event, eventBatch)
	var msgs []handlerMsg
	for {
		msgs = w.inbox.Drain(msgs[:0])
		for i := range msgs {
			if msgs[i].kind == msgShutdown {
				w.stop(msgs[i+1:])
				return nil
			}
			w.handle(msgs[i])
			msgs[i] = handlerMsg{}
		}

		// Fresh submissions are flushed right away; block only when idle.
		timeout := -1
		if len(msgs) > 0 {
			timeout = 0
		}
		n, err := w.sel.Wait(events, timeout)
		if err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				w.failAll(api.ErrStopped)
				return nil
			}
			w.log.Warn().Err(err).Msg("selector wait failed, retrying")
			continue
		}
		for i := 0; i < n; i++ {
			if st := w.channels[events[i].Token]; st != nil {
				w.flush(st)
			}
		}
	}
}

func (w *writeHandler) handle(m handlerMsg) {
	switch m.kind {
	case msgData:
		w.enqueue(m.req)
	case msgUnregister:
		st := w.channels[m.conn.id]
		if st == nil {
			return
		}
		delete(w.channels, m.conn.id)
		w.failPending(st, api.IOError(m.conn.peer, api.ErrConnectionClosed))
	}
}

func (w *writeHandler) enqueue(req *writeRequest) {
	c := req.conn
	if !c.IsRunning() {
		req.future.Complete(api.IOError(c.peer, api.ErrConnectionClosed))
		return
	}
	st := w.channels[c.id]
	if st == nil {
		st = &channelState{conn: c, fifo: queue.New()}
		w.channels[c.id] = st
	}
	st.fifo.Add(req)
	if st.registered {
		return
	}
	err := transport.WithFD(c.raw, func(fd int) error {
		return w.sel.Add(fd, c.id, reactor.Writable)
	})
	if err != nil {
		delete(w.channels, c.id)
		regErr := api.RegistrationError(c.peer, err)
		w.failPending(st, regErr)
		w.log.Debug().Err(regErr).Msg("write registration failed")
		w.table.closeConnection(c, regErr)
		return
	}
	st.registered = true
}

// flush writes queued frames until the socket would block or the FIFO is
// empty, in which case write interest is dropped.
func (w *writeHandler) flush(st *channelState) {
	c := st.conn
	for st.fifo.Length() > 0 {
		req := st.fifo.Peek().(*writeRequest)
		complete, err := w.write(req)
		if err != nil {
			delete(w.channels, c.id)
			ioErr := api.IOError(c.peer, err)
			w.failPending(st, ioErr)
			w.log.Debug().Err(err).Str("peer", c.peer.String()).Msg("write failed")
			w.table.closeConnection(c, ioErr)
			return
		}
		if !complete {
			return
		}
		st.fifo.Remove()
		w.table.metrics.FramesSent.Inc()
		w.table.metrics.BytesSent.Add(float64(len(req.payload)))
		req.future.Complete(nil)
	}
	st.registered = false
	_ = transport.WithFD(c.raw, func(fd int) error { return w.sel.Delete(fd) })
}

// write pushes as much of req as the socket accepts. The header is not
// assumed to go out in one call; both offsets advance independently.
func (w *writeHandler) write(req *writeRequest) (bool, error) {
	for !req.done() {
		w.iov = req.iov(w.iov[:0])
		n, err := transport.Writev(req.conn.raw, w.iov)
		req.advance(n)
		if err != nil {
			if transport.WouldBlock(err) {
				return false, nil
			}
			return false, err
		}
		if n == 0 {
			return false, fmt.Errorf("writev made no progress")
		}
	}
	return true, nil
}

func (w *writeHandler) failPending(st *channelState, err error) {
	for st.fifo.Length() > 0 {
		req := st.fifo.Remove().(*writeRequest)
		if req.future.Complete(err) {
			w.table.metrics.WriteErrors.Inc()
		}
	}
}

// failAll closes the inbox and fails every request the handler still holds:
// queued on a channel, left in the inbox, or already drained in rest.
func (w *writeHandler) failAll(err error, rest ...handlerMsg) {
	for id, st := range w.channels {
		w.failPending(st, err)
		delete(w.channels, id)
	}
	for _, m := range append(rest, w.inbox.Close()...) {
		if m.kind == msgData && m.req.future.Complete(err) {
			w.table.metrics.WriteErrors.Inc()
		}
	}
}

// stop is called with the messages drained after the shutdown sentinel.
func (w *writeHandler) stop(rest []handlerMsg) {
	w.failAll(api.ErrStopped, rest...)
	w.log.Debug().Msg("write handler stopped")
}
