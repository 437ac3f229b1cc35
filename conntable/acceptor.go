// File: conntable/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The acceptor takes inbound connections, reads the peer's address record
// and inserts the connection, resolving duplicates against connections this
// side dialed.

package conntable

import (
	"errors"
	"net"
	"time"

	"github.com/momentics/hioload-conntable/control"
	"github.com/momentics/hioload-conntable/core/protocol"
	"github.com/momentics/hioload-conntable/internal/transport"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// acceptLoop runs until the listener is closed.
func (t *Table) acceptLoop() error {
	defer t.listener.Close()
	log := t.log.With().Str("handler", "acceptor").Logger()

	var backoff time.Duration
	for {
		tc, err := t.listener.AcceptTCP()
		if err != nil {
			if t.stopping() || errors.Is(err, net.ErrClosed) {
				log.Debug().Msg("acceptor stopped")
				return nil
			}
			// e.g. EMFILE: back off instead of spinning
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		t.handleAccepted(tc)
	}
}

func (t *Table) handleAccepted(tc *net.TCPConn) {
	log := t.log.With().Str("remote", tc.RemoteAddr().String()).Logger()
	if err := transport.Tune(tc, t.cfg.socketOptions()); err != nil {
		log.Warn().Err(err).Msg("socket options not applied")
	}
	if !t.beginHandshake(tc) {
		tc.Close()
		return
	}
	peer, err := protocol.ReadAddressRecord(tc)
	t.endHandshake()
	if err != nil {
		log.Debug().Err(err).Msg("handshake failed")
		tc.Close()
		return
	}
	_ = tc.SetReadDeadline(time.Time{})

	c, err := t.newConnection(tc, peer, false)
	if err != nil {
		log.Warn().Err(err).Msg("cannot adopt accepted socket")
		tc.Close()
		return
	}

	t.mu.Lock()
	if t.stopping() {
		t.mu.Unlock()
		c.destroy()
		return
	}
	existing := t.conns[peer]
	if existing != nil && !keepNewConnection(t.local, peer, false) {
		t.mu.Unlock()
		t.metrics.TieBreaks.WithLabelValues("acceptor", control.TieBreakKeptExisting).Inc()
		log.Debug().Str("peer", peer.String()).Msg("rejecting inbound duplicate, local connection wins")
		c.destroy()
		return
	}
	t.putLocked(c, existing)
	t.mu.Unlock()

	if existing != nil {
		t.metrics.TieBreaks.WithLabelValues("acceptor", control.TieBreakKeptNew).Inc()
		log.Debug().Str("peer", peer.String()).Msg("replacing existing connection with inbound one")
		existing.destroy()
	}
	t.notifyOpened(peer)
	c.reader.register(c)
}
