// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking I/O on sockets owned by the Go runtime. Every system call
// runs inside RawConn.Control, which holds the runtime's reference on the
// descriptor: a concurrently closed connection fails the call instead of
// letting it land on a reused descriptor number.

package transport

import (
	"errors"
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

// Read performs one non-blocking read(2) into p. A clean peer shutdown is
// reported as io.EOF; an empty socket as an error satisfying WouldBlock.
func Read(rc syscall.RawConn, p []byte) (int, error) {
	var (
		n     int
		opErr error
	)
	err := rc.Control(func(fd uintptr) {
		for {
			n, opErr = unix.Read(int(fd), p)
			if opErr != unix.EINTR {
				return
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Writev performs one non-blocking writev(2) of bufs and returns the number
// of bytes the kernel accepted.
func Writev(rc syscall.RawConn, bufs [][]byte) (int, error) {
	var (
		n     int
		opErr error
	)
	err := rc.Control(func(fd uintptr) {
		for {
			n, opErr = unix.Writev(int(fd), bufs)
			if opErr != unix.EINTR {
				return
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, opErr
}

// WithFD runs fn with the live descriptor of rc. It fails without calling fn
// if the connection has been closed.
func WithFD(rc syscall.RawConn, fn func(fd int) error) error {
	var opErr error
	if err := rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

// WouldBlock reports whether err means the operation must wait for readiness.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
