package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/core/protocol"
)

func TestAddressRecordRoundTrip(t *testing.T) {
	for _, s := range []string{"127.0.0.1:7800", "[::1]:7801", "10.1.2.3:65535"} {
		a := api.MustParseAddress(s)
		var buf bytes.Buffer
		require.NoError(t, protocol.WriteAddressRecord(&buf, a))
		got, err := protocol.ReadAddressRecord(&buf)
		require.NoError(t, err)
		require.Equal(t, a, got)
		require.Zero(t, buf.Len(), "record must be consumed exactly")
	}
}

func TestAddressRecordLeavesFollowingBytes(t *testing.T) {
	a := api.MustParseAddress("127.0.0.1:9000")
	rec, err := protocol.EncodeAddressRecord(a)
	require.NoError(t, err)
	frame, _ := protocol.AppendFrame(nil, []byte("x"))

	r := bytes.NewReader(append(rec, frame...))
	_, err = protocol.ReadAddressRecord(r)
	require.NoError(t, err)
	require.Equal(t, len(frame), r.Len())
}

func TestAddressRecordRejectsBadCookie(t *testing.T) {
	rec, err := protocol.EncodeAddressRecord(api.MustParseAddress("127.0.0.1:1"))
	require.NoError(t, err)
	rec[0] = 'x'
	_, err = protocol.ReadAddressRecord(bytes.NewReader(rec))
	require.ErrorIs(t, err, api.ErrBadHandshake)
}

func TestAddressRecordRejectsBadVersion(t *testing.T) {
	rec, err := protocol.EncodeAddressRecord(api.MustParseAddress("127.0.0.1:1"))
	require.NoError(t, err)
	rec[5] = 9
	_, err = protocol.ReadAddressRecord(bytes.NewReader(rec))
	require.ErrorIs(t, err, api.ErrBadHandshake)
}

func TestEncodeInvalidAddress(t *testing.T) {
	_, err := protocol.EncodeAddressRecord(api.Address{})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}
