// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent socket plumbing for the connection table: binding the
// first free port of a range, dialing peers, and applying socket options.
// The raw non-blocking read/writev entry points used by the selector loops
// live in the platform files.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/momentics/hioload-conntable/api"
)

// maxPort is the upper bound used when a range has no explicit end.
const maxPort = 65535

// SocketOptions are applied to every accepted and dialed connection.
type SocketOptions struct {
	SendBufferSize int
	RecvBufferSize int
	NoDelay        bool
}

// Listen binds a TCP listener on bindAddr, scanning ports from startPort to
// endPort inclusive. startPort 0 asks the OS for an ephemeral port; endPort 0
// means no upper bound. Only "address in use" moves the scan forward; any
// other failure, or an exhausted range, yields an api.ErrCodeBind error.
func Listen(bindAddr netip.Addr, startPort, endPort int) (*net.TCPListener, error) {
	if startPort < 0 || startPort > maxPort || endPort < 0 || endPort > maxPort {
		return nil, api.BindError(startPort, endPort, api.ErrInvalidArgument)
	}
	if startPort == 0 {
		ln, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(netip.AddrPortFrom(bindAddr, 0)))
		if err != nil {
			return nil, api.BindError(startPort, endPort, err)
		}
		return ln, nil
	}
	last := endPort
	if last == 0 {
		last = maxPort
	}
	if last < startPort {
		return nil, api.BindError(startPort, endPort, fmt.Errorf("%w: end port below start port", api.ErrInvalidArgument))
	}

	var lastErr error
	for port := startPort; port <= last; port++ {
		ln, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(netip.AddrPortFrom(bindAddr, uint16(port))))
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
	}
	return nil, api.BindError(startPort, endPort, lastErr)
}

// Dial opens a TCP connection to dest, bound to bindAddr when it is a
// specific address, and applies opts.
func Dial(ctx context.Context, bindAddr netip.Addr, dest api.Address, timeout time.Duration, opts SocketOptions) (*net.TCPConn, error) {
	d := net.Dialer{Timeout: timeout}
	if bindAddr.IsValid() && !bindAddr.IsUnspecified() {
		d.LocalAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(bindAddr, 0))
	}
	c, err := d.DialContext(ctx, "tcp", dest.String())
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%w: dial returned %T", api.ErrNotSupported, c)
	}
	if err := Tune(tc, opts); err != nil {
		tc.Close()
		return nil, err
	}
	return tc, nil
}

// Tune applies opts to c. Zero buffer sizes keep the OS defaults.
func Tune(c *net.TCPConn, opts SocketOptions) error {
	if err := c.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	if opts.SendBufferSize > 0 {
		if err := c.SetWriteBuffer(opts.SendBufferSize); err != nil {
			return fmt.Errorf("set SO_SNDBUF: %w", err)
		}
	}
	if opts.RecvBufferSize > 0 {
		if err := c.SetReadBuffer(opts.RecvBufferSize); err != nil {
			return fmt.Errorf("set SO_RCVBUF: %w", err)
		}
	}
	return nil
}

// RawConn returns the descriptor access handle of c.
func RawConn(c *net.TCPConn) (syscall.RawConn, error) {
	return c.SyscallConn()
}
