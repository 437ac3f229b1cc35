// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants

package protocol

const (
	// HeaderSize is the size of the frame length prefix.
	HeaderSize = 4

	// Handshake record.
	HandshakeCookie  = "ctbl"
	HandshakeVersion = 1

	// DefaultMaxFrameSize bounds a single payload unless configured otherwise.
	DefaultMaxFrameSize = 64 << 20
)
