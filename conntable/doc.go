// Package conntable implements a non-blocking TCP connection table.
//
// A Table keeps at most one connection per peer address. Connections are
// created lazily by GetConnection/Send or accepted from peers, which announce
// their listening address in a short handshake. Every connection is bound to
// one of N reader and one of M writer goroutines, each running its own epoll
// selector, so a connection's read state and write queue have a single owner.
// Frames are length-prefixed ([4-byte big-endian length][payload]); complete
// frames are dispatched to the Receiver through a bounded processor pool.
//
// When two peers dial each other at the same time both ends keep the
// connection initiated by the greater address and close the other.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package conntable
