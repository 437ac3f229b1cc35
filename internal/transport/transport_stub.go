//go:build !linux
// +build !linux

// File: internal/transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Raw socket I/O is only implemented on Linux.

package transport

import (
	"syscall"

	"github.com/momentics/hioload-conntable/api"
)

func Read(rc syscall.RawConn, p []byte) (int, error) { return 0, api.ErrNotSupported }

func Writev(rc syscall.RawConn, bufs [][]byte) (int, error) { return 0, api.ErrNotSupported }

func WithFD(rc syscall.RawConn, fn func(fd int) error) error { return api.ErrNotSupported }

func WouldBlock(err error) bool { return false }
