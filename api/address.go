// File: api/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer identity used as the connection table key.

package api

import (
	"fmt"
	"net"
	"net/netip"
)

// Address identifies a peer by IP and listening port. The zero value is invalid.
// Address is comparable and may be used as a map key.
type Address struct {
	ap netip.AddrPort
}

// NewAddress builds an Address from an IP and a port. IPv4-mapped IPv6
// addresses are unmapped so both forms compare equal.
func NewAddress(ip netip.Addr, port uint16) Address {
	return Address{ap: netip.AddrPortFrom(ip.Unmap(), port)}
}

// ParseAddress parses "ip:port".
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return NewAddress(ap.Addr(), ap.Port()), nil
}

// MustParseAddress is ParseAddress that panics on error. Intended for tests and constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromNet converts a *net.TCPAddr into an Address.
func AddressFromNet(a net.Addr) (Address, error) {
	tcp, ok := a.(*net.TCPAddr)
	if !ok || tcp == nil {
		return Address{}, fmt.Errorf("%w: not a TCP address: %v", ErrInvalidArgument, a)
	}
	return NewAddress(tcp.AddrPort().Addr(), tcp.AddrPort().Port()), nil
}

// IP returns the IP part.
func (a Address) IP() netip.Addr { return a.ap.Addr() }

// Port returns the port part.
func (a Address) Port() uint16 { return a.ap.Port() }

// AddrPort returns the underlying netip.AddrPort.
func (a Address) AddrPort() netip.AddrPort { return a.ap }

// IsValid reports whether the address carries a valid IP.
func (a Address) IsValid() bool { return a.ap.IsValid() }

// Compare returns an integer comparing two addresses: IP first, then port.
// The order is total and stable; both ends of a connection rely on it to
// pick the same survivor of a simultaneous connect.
func (a Address) Compare(b Address) int {
	return a.ap.Compare(b.ap)
}

// String returns "ip:port".
func (a Address) String() string {
	if !a.ap.IsValid() {
		return "<invalid>"
	}
	return a.ap.String()
}
