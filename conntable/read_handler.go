// File: conntable/read_handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A read handler owns one selector and the decoders of its connections.
// Each readable connection is read header-then-body until the socket runs
// dry; complete frames are handed to the processor pool.

package conntable

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/internal/concurrency"
	"github.com/momentics/hioload-conntable/internal/transport"
	"github.com/momentics/hioload-conntable/reactor"
)

// maxFramesPerEvent bounds the frames taken from one connection per wakeup
// so a busy peer cannot starve the others on the same handler.
const maxFramesPerEvent = 64

type readHandler struct {
	index int
	table *Table
	sel   reactor.Selector
	inbox *concurrency.Mailbox[handlerMsg]
	conns map[uint64]*Connection
	log   zerolog.Logger
}

func newReadHandler(t *Table, index int, sel reactor.Selector) *readHandler {
	return &readHandler{
		index: index,
		table: t,
		sel:   sel,
		inbox: concurrency.NewMailbox[handlerMsg](func() { _ = sel.Wakeup() }),
		conns: make(map[uint64]*Connection),
		log:   t.log.With().Str("handler", "reader").Int("index", index).Logger(),
	}
}

// register hands c to the loop for read interest.
func (r *readHandler) register(c *Connection) {
	if !r.inbox.Put(handlerMsg{kind: msgRegister, conn: c}) {
		r.table.closeConnection(c, api.RegistrationError(c.peer, api.ErrStopped))
	}
}

func (r *readHandler) unregister(c *Connection) {
	r.inbox.Put(handlerMsg{kind: msgUnregister, conn: c})
}

func (r *readHandler) shutdown() {
	r.inbox.Put(handlerMsg{kind: msgShutdown})
}

func (r *readHandler) run(slot int) error {
	r.table.pinThread(slot, r.log)
	defer r.sel.Close()

	events := make([]reactor.Event, eventBatch)
	var msgs []handlerMsg
	for {
		n, err := r.sel.Wait(events, -1)
		if err != nil {
			if errors.Is(err, reactor.ErrClosed) {
				r.inbox.Close()
				return nil
			}
			r.log.Warn().Err(err).Msg("selector wait failed, retrying")
			n = 0
		}
		for i := 0; i < n; i++ {
			if c := r.conns[events[i].Token]; c != nil {
				r.readFrames(c)
			}
		}

		msgs = r.inbox.Drain(msgs[:0])
		for i := range msgs {
			switch msgs[i].kind {
			case msgRegister:
				r.add(msgs[i].conn)
			case msgUnregister:
				delete(r.conns, msgs[i].conn.id)
			case msgShutdown:
				r.inbox.Close()
				r.log.Debug().Msg("read handler stopped")
				return nil
			}
			msgs[i] = handlerMsg{}
		}
	}
}

func (r *readHandler) add(c *Connection) {
	err := transport.WithFD(c.raw, func(fd int) error {
		return r.sel.Add(fd, c.id, reactor.Readable)
	})
	if err != nil {
		regErr := api.RegistrationError(c.peer, err)
		r.log.Debug().Err(regErr).Msg("read registration failed")
		r.table.closeConnection(c, regErr)
		return
	}
	r.conns[c.id] = c
}

// readFrames drains c until the socket would block, the frame budget is
// spent, or the connection fails.
func (r *readHandler) readFrames(c *Connection) {
	for frames := 0; frames < maxFramesPerEvent; {
		n, err := transport.Read(c.raw, c.decoder.Buffer())
		if err != nil {
			if transport.WouldBlock(err) {
				return
			}
			r.drop(c, err)
			return
		}
		frame, complete, err := c.decoder.Advance(n)
		if err != nil {
			r.drop(c, err)
			return
		}
		if !complete {
			continue
		}
		frames++
		c.touch()
		r.table.metrics.FramesReceived.Inc()
		r.table.metrics.BytesReceived.Add(float64(len(frame)))
		r.table.deliver(c.peer, frame)
	}
}

func (r *readHandler) drop(c *Connection, cause error) {
	delete(r.conns, c.id)
	r.log.Debug().Err(cause).Str("peer", c.peer.String()).Msg("closing connection")
	r.table.closeConnection(c, api.IOError(c.peer, cause))
}
