//go:build linux

package transport_test

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/internal/transport"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestListenEphemeral(t *testing.T) {
	ln, err := transport.Listen(loopback, 0, 0)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotZero(t, ln.Addr().(*net.TCPAddr).Port)
}

func TestListenSkipsBusyPorts(t *testing.T) {
	busy, err := transport.Listen(loopback, 0, 0)
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port
	if port == 65535 {
		t.Skip("no room above the ephemeral port")
	}

	ln, err := transport.Listen(loopback, port, port+1)
	if err != nil {
		// port+1 may itself be taken by an unrelated process
		require.True(t, api.IsCode(err, api.ErrCodeBind))
		return
	}
	defer ln.Close()
	assert.Equal(t, port+1, ln.Addr().(*net.TCPAddr).Port)
}

func TestListenExhaustedRange(t *testing.T) {
	busy, err := transport.Listen(loopback, 0, 0)
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	_, err = transport.Listen(loopback, port, port)
	require.Error(t, err)
	assert.True(t, api.IsCode(err, api.ErrCodeBind))
}

func TestListenInvalidRange(t *testing.T) {
	_, err := transport.Listen(loopback, 9000, 8000)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.True(t, api.IsCode(err, api.ErrCodeBind))
}

func connectedPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := transport.Listen(loopback, 0, 0)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.AcceptTCP()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	dest := api.NewAddress(loopback, uint16(ln.Addr().(*net.TCPAddr).Port))
	client, err := transport.Dial(context.Background(), loopback, dest, time.Second,
		transport.SocketOptions{NoDelay: true, SendBufferSize: 64 << 10, RecvBufferSize: 64 << 10})
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestRawReadWritev(t *testing.T) {
	client, server := connectedPair(t)
	crc, err := transport.RawConn(client)
	require.NoError(t, err)
	src, err := transport.RawConn(server)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = transport.Read(src, buf)
	require.Error(t, err)
	assert.True(t, transport.WouldBlock(err), "empty socket must not block: %v", err)

	n, err := transport.Writev(crc, [][]byte{{0, 0, 0, 4}, []byte("PING")})
	require.NoError(t, err)
	require.Equal(t, 8, n)

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 8 && time.Now().Before(deadline) {
		n, err := transport.Read(src, buf)
		if transport.WouldBlock(err) {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, []byte{0, 0, 0, 4, 'P', 'I', 'N', 'G'}, got)

	require.NoError(t, client.Close())
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err = transport.Read(src, buf)
		if !transport.WouldBlock(err) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.ErrorIs(t, err, io.EOF)
}

func TestWithFDAfterClose(t *testing.T) {
	client, _ := connectedPair(t)
	rc, err := transport.RawConn(client)
	require.NoError(t, err)

	called := false
	require.NoError(t, transport.WithFD(rc, func(fd int) error {
		called = fd >= 0
		return nil
	}))
	assert.True(t, called)

	require.NoError(t, client.Close())
	called = false
	require.Error(t, transport.WithFD(rc, func(int) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestDialRefused(t *testing.T) {
	ln, err := transport.Listen(loopback, 0, 0)
	require.NoError(t, err)
	dest := api.NewAddress(loopback, uint16(ln.Addr().(*net.TCPAddr).Port))
	require.NoError(t, ln.Close())

	_, err = transport.Dial(context.Background(), netip.Addr{}, dest, time.Second, transport.SocketOptions{})
	require.Error(t, err)
}
