package conntable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequestPartialProgress(t *testing.T) {
	req := newWriteRequest(nil, []byte("PING"))
	assert.Equal(t, [4]byte{0, 0, 0, 4}, req.header)

	iov := req.iov(nil)
	require.Len(t, iov, 2)

	// header split across two attempts
	req.advance(3)
	iov = req.iov(nil)
	require.Len(t, iov, 2)
	assert.Equal(t, []byte{4}, iov[0])
	assert.Equal(t, []byte("PING"), iov[1])

	// rest of header plus part of the body
	req.advance(3)
	iov = req.iov(nil)
	require.Len(t, iov, 1)
	assert.Equal(t, []byte("NG"), iov[0])
	assert.False(t, req.done())

	req.advance(2)
	assert.True(t, req.done())
	assert.Empty(t, req.iov(nil))
}

func TestWriteRequestEmptyPayload(t *testing.T) {
	req := newWriteRequest(nil, nil)
	require.Len(t, req.iov(nil), 1)
	req.advance(4)
	assert.True(t, req.done())
}
