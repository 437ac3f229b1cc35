// File: conntable/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-conntable/affinity"
	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/control"
	"github.com/momentics/hioload-conntable/core/protocol"
	"github.com/momentics/hioload-conntable/internal/concurrency"
	"github.com/momentics/hioload-conntable/internal/logging"
	"github.com/momentics/hioload-conntable/internal/transport"
	"github.com/momentics/hioload-conntable/reactor"
)

// Table lifecycle states.
const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

var errShutdownTimeout = errors.New("conntable: shutdown timed out")

// dialCall is an outbound connect shared by concurrent callers.
type dialCall struct {
	done chan struct{}
	conn *Connection
	err  error
	// abandoned is set when the dial failed because the dialing caller's
	// context ended; waiters with a live context dial again.
	abandoned bool
}

// Table maintains one TCP connection per peer address and multiplexes them
// over a fixed set of reader and writer selector loops.
type Table struct {
	cfg     *Config
	log     zerolog.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes

	mu      sync.Mutex // guards conns and pending; never held across I/O
	conns   map[api.Address]*Connection
	pending map[api.Address]*dialCall

	cbMu      sync.RWMutex
	receiver  api.Receiver
	listeners []api.ConnectionListener

	local     api.Address
	listener  *net.TCPListener

	hsMu        sync.Mutex
	handshaking *net.TCPConn // accepted socket whose address record is being read
	readers   []*readHandler
	writers   []*writeHandler
	processor *concurrency.Executor

	readerMu   sync.Mutex
	nextReader int
	writerMu   sync.Mutex
	nextWriter int
	nextID     atomic.Uint64

	state      atomic.Int32
	startOnce  sync.Once
	stopOnce   sync.Once
	stopErr    error
	reaperStop chan struct{}
	group      errgroup.Group
}

// New creates a table. Nothing is bound until Start.
func New(cfg *Config, opts ...Option) (*Table, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Table{
		cfg:        cfg,
		log:        logging.New("conntable"),
		probes:     control.NewDebugProbes(),
		conns:      make(map[api.Address]*Connection),
		pending:    make(map[api.Address]*dialCall),
		reaperStop: make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = control.NewMetrics(nil)
	}
	return t, nil
}

// Start binds the listening socket and launches the acceptor, the selector
// loops, the processor pool and, if configured, the idle reaper.
func (t *Table) Start() error {
	err := errors.New("conntable: already started")
	t.startOnce.Do(func() { err = t.start() })
	return err
}

func (t *Table) start() error {
	if t.state.Load() != stateNew {
		return api.ErrStopped
	}
	bindIP, _ := t.cfg.bindIP()
	advertised, _ := t.cfg.advertisedIP()

	ln, err := transport.Listen(bindIP, t.cfg.StartPort, t.cfg.EndPort)
	if err != nil {
		return err
	}
	t.listener = ln
	t.local = api.NewAddress(advertised, uint16(ln.Addr().(*net.TCPAddr).Port))
	t.log = t.log.With().Str("local", t.local.String()).Logger()

	for i := 0; i < t.cfg.ReaderThreads; i++ {
		sel, err := reactor.NewSelector()
		if err != nil {
			t.abortStart()
			return fmt.Errorf("create reader selector: %w", err)
		}
		t.readers = append(t.readers, newReadHandler(t, i, sel))
	}
	for i := 0; i < t.cfg.WriterThreads; i++ {
		sel, err := reactor.NewSelector()
		if err != nil {
			t.abortStart()
			return fmt.Errorf("create writer selector: %w", err)
		}
		t.writers = append(t.writers, newWriteHandler(t, i, sel))
	}

	t.processor = concurrency.NewExecutor(t.cfg.ProcessorThreads, t.cfg.ProcessorQueueSize, t.cfg.policy(),
		func(r any) { t.log.Error().Interface("panic", r).Msg("receiver panicked") })

	t.registerProbes()
	t.state.Store(stateRunning)

	t.group.Go(t.acceptLoop)
	for i, r := range t.readers {
		t.group.Go(func() error { return r.run(i) })
	}
	for i, w := range t.writers {
		t.group.Go(func() error { return w.run(len(t.readers) + i) })
	}
	if t.cfg.ReaperInterval > 0 && t.cfg.ConnExpireTime > 0 {
		t.group.Go(t.reapLoop)
	}
	t.log.Info().
		Int("readers", len(t.readers)).
		Int("writers", len(t.writers)).
		Int("processors", t.cfg.ProcessorThreads).
		Msg("connection table started")
	return nil
}

func (t *Table) abortStart() {
	_ = t.listener.Close()
	for _, r := range t.readers {
		_ = r.sel.Close()
	}
	for _, w := range t.writers {
		_ = w.sel.Close()
	}
	t.readers, t.writers = nil, nil
	t.state.Store(stateStopped)
}

var _ api.GracefulShutdown = (*Table)(nil)

// Stop shuts the table down: the listener is closed, every loop is told to
// exit, the processor pool drains for at most ShutdownTimeout, and all
// connections are closed. Pending sends resolve with an error. Stop does not
// fire closed notifications and is idempotent.
func (t *Table) Stop() {
	_ = t.Shutdown()
}

// Shutdown is Stop reporting whether the background goroutines finished in
// time. Later calls return the first call's result.
func (t *Table) Shutdown() error {
	t.stopOnce.Do(func() { t.stopErr = t.stop() })
	return t.stopErr
}

func (t *Table) stop() error {
	if !t.state.CompareAndSwap(stateRunning, stateStopped) {
		t.state.Store(stateStopped)
		return nil
	}
	close(t.reaperStop)
	_ = t.listener.Close()
	t.abortHandshake()
	for _, r := range t.readers {
		r.shutdown()
	}
	for _, w := range t.writers {
		w.shutdown()
	}
	if !t.processor.Close(t.cfg.ShutdownTimeout) {
		t.log.Warn().Dur("timeout", t.cfg.ShutdownTimeout).Msg("processor pool did not drain in time")
	}

	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	clear(t.conns)
	t.metrics.ActiveConnections.Set(0)
	t.mu.Unlock()
	for _, c := range conns {
		c.destroy()
	}

	done := make(chan struct{})
	go func() {
		if err := t.group.Wait(); err != nil {
			t.log.Error().Err(err).Msg("background goroutine failed")
		}
		close(done)
	}()
	select {
	case <-done:
		t.log.Info().Msg("connection table stopped")
		return nil
	case <-time.After(t.shutdownTimeout()):
		t.log.Warn().Msg("background goroutines still running after stop")
		return errShutdownTimeout
	}
}

// beginHandshake records tc as the socket being handshaken and arms its read
// deadline. It returns false if the table is stopping, in which case tc must
// not be read.
func (t *Table) beginHandshake(tc *net.TCPConn) bool {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	if t.stopping() {
		return false
	}
	t.handshaking = tc
	_ = tc.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	return true
}

func (t *Table) endHandshake() {
	t.hsMu.Lock()
	t.handshaking = nil
	t.hsMu.Unlock()
}

// abortHandshake unblocks an acceptor waiting for a peer's address record.
func (t *Table) abortHandshake() {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	if t.handshaking != nil {
		_ = t.handshaking.SetReadDeadline(time.Now())
	}
}

func (t *Table) shutdownTimeout() time.Duration {
	if t.cfg.ShutdownTimeout > 0 {
		return t.cfg.ShutdownTimeout
	}
	return 3 * time.Second
}

func (t *Table) stopping() bool { return t.state.Load() != stateRunning }

// LocalAddress returns the address announced to peers; it is valid after Start.
func (t *Table) LocalAddress() api.Address { return t.local }

// GetConnection returns the connection to dest, dialing it if absent.
// Concurrent callers for the same destination share one dial.
func (t *Table) GetConnection(ctx context.Context, dest api.Address) (*Connection, error) {
	if t.stopping() {
		return nil, api.ErrStopped
	}
	if !dest.IsValid() || dest == t.local {
		return nil, fmt.Errorf("%w: cannot connect to %s", api.ErrInvalidArgument, dest)
	}

	for {
		t.mu.Lock()
		if c := t.conns[dest]; c != nil {
			t.mu.Unlock()
			return c, nil
		}
		call := t.pending[dest]
		if call == nil {
			call = &dialCall{done: make(chan struct{})}
			t.pending[dest] = call
			t.mu.Unlock()
			return t.dial(ctx, dest, call)
		}
		t.mu.Unlock()

		select {
		case <-call.done:
			if call.abandoned && ctx.Err() == nil && !t.stopping() {
				continue
			}
			return call.conn, call.err
		case <-ctx.Done():
			return nil, api.ConnectError(dest, ctx.Err())
		}
	}
}

// dial performs the connect registered as call and publishes its result.
func (t *Table) dial(ctx context.Context, dest api.Address, call *dialCall) (*Connection, error) {
	c, err := t.connect(ctx, dest)
	if err == nil {
		c, err = t.insertOutbound(c)
	} else {
		t.mu.Lock()
		delete(t.pending, dest)
		t.mu.Unlock()
		call.abandoned = ctx.Err() != nil
	}
	call.conn, call.err = c, err
	close(call.done)
	return c, err
}

// Connection returns the existing connection to dest, or nil.
func (t *Table) Connection(dest api.Address) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[dest]
}

// connect dials dest and announces the local address.
func (t *Table) connect(ctx context.Context, dest api.Address) (*Connection, error) {
	bindIP, _ := t.cfg.bindIP()
	tc, err := transport.Dial(ctx, bindIP, dest, t.cfg.ConnectTimeout, t.cfg.socketOptions())
	if err != nil {
		return nil, api.ConnectError(dest, err)
	}
	if t.cfg.HandshakeTimeout > 0 {
		_ = tc.SetWriteDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	}
	if err := protocol.WriteAddressRecord(tc, t.local); err != nil {
		tc.Close()
		return nil, api.ConnectError(dest, err)
	}
	_ = tc.SetWriteDeadline(time.Time{})

	c, err := t.newConnection(tc, dest, true)
	if err != nil {
		tc.Close()
		return nil, api.ConnectError(dest, err)
	}
	return c, nil
}

// insertOutbound adds a freshly dialed connection, resolving a race with an
// inbound connection from the same peer accepted meanwhile.
func (t *Table) insertOutbound(c *Connection) (*Connection, error) {
	t.mu.Lock()
	delete(t.pending, c.peer)
	if t.stopping() {
		t.mu.Unlock()
		c.destroy()
		return nil, api.ErrStopped
	}
	existing := t.conns[c.peer]
	if existing != nil && !keepNewConnection(t.local, c.peer, true) {
		t.mu.Unlock()
		t.metrics.TieBreaks.WithLabelValues("dialer", control.TieBreakKeptExisting).Inc()
		t.log.Debug().Str("peer", c.peer.String()).Msg("dropping dialed connection, peer's connection wins")
		c.destroy()
		return existing, nil
	}
	t.putLocked(c, existing)
	t.mu.Unlock()

	if existing != nil {
		t.metrics.TieBreaks.WithLabelValues("dialer", control.TieBreakKeptNew).Inc()
		existing.destroy()
	}
	t.notifyOpened(c.peer)
	c.reader.register(c)
	return c, nil
}

// putLocked stores c, replacing existing. t.mu must be held.
func (t *Table) putLocked(c, existing *Connection) {
	t.conns[c.peer] = c
	if existing == nil {
		t.metrics.ConnectionsOpened.Inc()
		t.metrics.ActiveConnections.Set(float64(len(t.conns)))
	}
}

// keepNewConnection decides a duplicate connection race for peer. Of two
// connections between a pair of peers, the one initiated by the greater
// address survives; both ends evaluate the same rule and converge.
func keepNewConnection(local, peer api.Address, newIsOutbound bool) bool {
	if newIsOutbound {
		return local.Compare(peer) > 0
	}
	return peer.Compare(local) > 0
}

func (t *Table) newConnection(tc *net.TCPConn, peer api.Address, outbound bool) (*Connection, error) {
	raw, err := transport.RawConn(tc)
	if err != nil {
		return nil, err
	}
	c := newConnection(t.nextID.Add(1), tc, raw, peer, outbound, t.cfg.MaxFrameSize)
	c.reader = t.pickReader()
	c.writer = t.pickWriter()
	return c, nil
}

func (t *Table) pickReader() *readHandler {
	t.readerMu.Lock()
	defer t.readerMu.Unlock()
	r := t.readers[t.nextReader]
	t.nextReader = (t.nextReader + 1) % len(t.readers)
	return r
}

func (t *Table) pickWriter() *writeHandler {
	t.writerMu.Lock()
	defer t.writerMu.Unlock()
	w := t.writers[t.nextWriter]
	t.nextWriter = (t.nextWriter + 1) % len(t.writers)
	return w
}

// Send writes data as one frame to dest, connecting first if needed, and
// blocks until the frame is flushed to the socket or fails. data must not
// be modified until Send returns.
func (t *Table) Send(ctx context.Context, dest api.Address, data []byte) error {
	if len(data) > t.maxFrame() {
		return fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, len(data))
	}
	c, err := t.GetConnection(ctx, dest)
	if err != nil {
		return err
	}
	return c.send(data).Wait(ctx)
}

func (t *Table) maxFrame() int {
	if t.cfg.MaxFrameSize > 0 {
		return t.cfg.MaxFrameSize
	}
	return 1<<31 - 1
}

// RemoveConnection closes the connection to dest, if any, and notifies
// listeners.
func (t *Table) RemoveConnection(dest api.Address) {
	t.mu.Lock()
	c := t.conns[dest]
	if c != nil {
		t.deleteLocked(c)
	}
	t.mu.Unlock()
	if c != nil {
		c.destroy()
		t.notifyClosed(dest)
	}
}

// closeConnection removes c if it is still the table's connection for its
// peer, destroys it, and notifies listeners when it was removed.
func (t *Table) closeConnection(c *Connection, cause error) {
	t.mu.Lock()
	removed := t.conns[c.peer] == c
	if removed {
		t.deleteLocked(c)
	}
	t.mu.Unlock()
	c.destroy()
	if removed {
		t.log.Debug().Err(cause).Str("peer", c.peer.String()).Msg("connection closed")
		t.notifyClosed(c.peer)
	}
}

func (t *Table) deleteLocked(c *Connection) {
	delete(t.conns, c.peer)
	t.metrics.ConnectionsClosed.Inc()
	t.metrics.ActiveConnections.Set(float64(len(t.conns)))
}

// Connections returns a snapshot of the current connections.
func (t *Table) Connections() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int { return a.peer.Compare(b.peer) })
	return out
}

// NumConnections returns the number of connections in the table.
func (t *Table) NumConnections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// SetReceiver replaces the frame receiver.
func (t *Table) SetReceiver(r api.Receiver) {
	t.cbMu.Lock()
	t.receiver = r
	t.cbMu.Unlock()
}

// AddConnectionListener registers l for lifecycle notifications.
func (t *Table) AddConnectionListener(l api.ConnectionListener) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	if !slices.Contains(t.listeners, l) {
		t.listeners = append(t.listeners, l)
	}
}

// RemoveConnectionListener unregisters l.
func (t *Table) RemoveConnectionListener(l api.ConnectionListener) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.listeners = slices.DeleteFunc(t.listeners, func(x api.ConnectionListener) bool { return x == l })
}

func (t *Table) notifyOpened(peer api.Address) {
	t.log.Debug().Str("peer", peer.String()).Msg("connection opened")
	for _, l := range t.snapshotListeners() {
		l.ConnectionOpened(peer)
	}
}

func (t *Table) notifyClosed(peer api.Address) {
	for _, l := range t.snapshotListeners() {
		l.ConnectionClosed(peer)
	}
}

func (t *Table) snapshotListeners() []api.ConnectionListener {
	t.cbMu.RLock()
	defer t.cbMu.RUnlock()
	return slices.Clone(t.listeners)
}

// deliver hands a frame to the processor pool. Under the block policy this
// stalls the calling reader until capacity frees up.
func (t *Table) deliver(sender api.Address, frame []byte) {
	t.cbMu.RLock()
	r := t.receiver
	t.cbMu.RUnlock()
	if r == nil {
		t.log.Debug().Str("peer", sender.String()).Int("len", len(frame)).Msg("no receiver, frame discarded")
		return
	}
	err := t.processor.Submit(func() { r.Receive(sender, frame) })
	switch {
	case err == nil:
	case api.IsCode(err, api.ErrCodeSaturation):
		t.metrics.DroppedFrames.Inc()
		t.log.Warn().Err(err).Str("peer", sender.String()).Msg("frame dropped")
	default:
		t.log.Debug().Err(err).Msg("frame not delivered")
	}
}

func (t *Table) pinThread(slot int, log zerolog.Logger) {
	if !t.cfg.CPUAffinity {
		return
	}
	if err := affinity.LockToCPU(slot); err != nil {
		log.Warn().Err(err).Int("slot", slot).Msg("cpu pinning failed")
	}
}

// Metrics returns the table's metric collectors.
func (t *Table) Metrics() *control.Metrics { return t.metrics }

// Probes returns the table's debug probes.
func (t *Table) Probes() *control.DebugProbes { return t.probes }

func (t *Table) registerProbes() {
	t.probes.RegisterProbe("local_address", func() any { return t.local.String() })
	t.probes.RegisterProbe("connections", func() any { return t.NumConnections() })
	t.probes.RegisterProbe("writer_pending", func() any {
		out := make([]int, len(t.writers))
		for i, w := range t.writers {
			out[i] = w.pending()
		}
		return out
	})
	t.probes.RegisterProbe("processor", func() any { return t.processor.Stats() })
}

// String dumps the table for diagnostics.
func (t *Table) String() string {
	conns := t.Connections()
	var sb strings.Builder
	fmt.Fprintf(&sb, "local_addr=%s\nconnections (%d):\n", t.local, len(conns))
	for _, c := range conns {
		fmt.Fprintf(&sb, "key: %s: %s\n", c.peer, c)
	}
	return sb.String()
}
