// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that stop their background
// goroutines within a bounded time.
type GracefulShutdown interface {
	// Shutdown stops all internal services and releases resources. It
	// returns an error if they did not finish within the shutdown timeout.
	Shutdown() error
}
