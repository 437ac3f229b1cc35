// File: api/handler.go
// Package api defines the upstream collaborator contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Receiver consumes complete frames. Receive is called once per frame, from a
// processor goroutine (or the reader goroutine when processing is inline).
// The data slice is owned by the receiver.
type Receiver interface {
	Receive(sender Address, data []byte)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(sender Address, data []byte)

// Receive calls f(sender, data).
func (f ReceiverFunc) Receive(sender Address, data []byte) { f(sender, data) }

// ConnectionListener is notified when a peer becomes connected or disconnected.
type ConnectionListener interface {
	ConnectionOpened(peer Address)
	ConnectionClosed(peer Address)
}
