//go:build linux

package conntable

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/core/protocol"
)

type frame struct {
	sender api.Address
	data   []byte
}

// collector is a Receiver recording every frame.
type collector struct {
	ch chan frame
}

func newCollector() *collector { return &collector{ch: make(chan frame, 4096)} }

func (c *collector) Receive(sender api.Address, data []byte) {
	c.ch <- frame{sender: sender, data: data}
}

func (c *collector) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame{}
	}
}

// recorder is a ConnectionListener recording lifecycle events.
type recorder struct {
	mu     sync.Mutex
	opened []api.Address
	closed []api.Address
}

func (r *recorder) ConnectionOpened(peer api.Address) {
	r.mu.Lock()
	r.opened = append(r.opened, peer)
	r.mu.Unlock()
}

func (r *recorder) ConnectionClosed(peer api.Address) {
	r.mu.Lock()
	r.closed = append(r.closed, peer)
	r.mu.Unlock()
}

func (r *recorder) counts() (opened, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened), len(r.closed)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ReaderThreads = 2
	cfg.WriterThreads = 2
	cfg.ProcessorThreads = 2
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startTable(t *testing.T, cfg *Config, opts ...Option) *Table {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	tbl, err := New(cfg, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, tbl.Start())
	t.Cleanup(tbl.Stop)
	return tbl
}

// ordered returns the tables sorted by local address, smallest first.
func ordered(a, b *Table) (lo, hi *Table) {
	if a.LocalAddress().Compare(b.LocalAddress()) < 0 {
		return a, b
	}
	return b, a
}

// rawPeer connects to target and announces itself as announce, standing in
// for a peer table.
func rawPeer(t *testing.T, target, announce api.Address) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", target.String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, protocol.WriteAddressRecord(c, announce))
	return c
}

// expectClosed waits for the remote end to close c.
func expectClosed(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := c.Read(make([]byte, 1))
	require.Error(t, err)
	if ne, ok := err.(net.Error); ok {
		require.False(t, ne.Timeout(), "connection left open")
	}
}
