// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket layer of the connection table: port-range binding, dialing with
// socket tuning, and raw non-blocking read/writev for the selector loops.
// Platform-specific code is separated by build tags.

package transport
