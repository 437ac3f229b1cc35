// File: core/protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Self-announce handshake. Right after connect the dialing side writes its
// listening address once; the accepting side reads it before the connection
// joins a reader loop.
//
// Record layout:
//
//	[4]  cookie "ctbl"
//	[2]  version, big-endian
//	[1]  IP length (4 or 16)
//	[n]  IP bytes
//	[2]  port, big-endian

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/momentics/hioload-conntable/api"
)

const maxRecordSize = len(HandshakeCookie) + 2 + 1 + 16 + 2

// EncodeAddressRecord returns the handshake record for a.
func EncodeAddressRecord(a api.Address) ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("%w: invalid local address", api.ErrInvalidArgument)
	}
	ip := a.IP().AsSlice()
	buf := make([]byte, 0, maxRecordSize)
	buf = append(buf, HandshakeCookie...)
	buf = binary.BigEndian.AppendUint16(buf, HandshakeVersion)
	buf = append(buf, byte(len(ip)))
	buf = append(buf, ip...)
	buf = binary.BigEndian.AppendUint16(buf, a.Port())
	return buf, nil
}

// WriteAddressRecord writes the handshake record for a to w.
func WriteAddressRecord(w io.Writer, a api.Address) error {
	rec, err := EncodeAddressRecord(a)
	if err != nil {
		return err
	}
	_, err = w.Write(rec)
	return err
}

// ReadAddressRecord reads and validates a handshake record from r.
func ReadAddressRecord(r io.Reader) (api.Address, error) {
	var fixed [len(HandshakeCookie) + 3]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return api.Address{}, err
	}
	if string(fixed[:len(HandshakeCookie)]) != HandshakeCookie {
		return api.Address{}, fmt.Errorf("%w: cookie %q", api.ErrBadHandshake, fixed[:len(HandshakeCookie)])
	}
	if v := binary.BigEndian.Uint16(fixed[len(HandshakeCookie):]); v != HandshakeVersion {
		return api.Address{}, fmt.Errorf("%w: version %d", api.ErrBadHandshake, v)
	}
	ipLen := int(fixed[len(fixed)-1])
	if ipLen != 4 && ipLen != 16 {
		return api.Address{}, fmt.Errorf("%w: ip length %d", api.ErrBadHandshake, ipLen)
	}
	rest := make([]byte, ipLen+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return api.Address{}, err
	}
	ip, _ := netip.AddrFromSlice(rest[:ipLen])
	return api.NewAddress(ip, binary.BigEndian.Uint16(rest[ipLen:])), nil
}
