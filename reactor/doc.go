// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness selector used by the connection
// table's reader and writer loops: one Selector per loop goroutine, woken by
// an eventfd when work is queued for it.
package reactor

import "errors"

// ErrClosed is returned by Wait and Wakeup on a closed Selector.
var ErrClosed = errors.New("reactor: selector closed")
