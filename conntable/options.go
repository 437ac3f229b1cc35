// File: conntable/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/control"
)

// Option customizes a Table at construction.
type Option func(*Table)

// WithReceiver sets the callback invoked once per received frame.
func WithReceiver(r api.Receiver) Option {
	return func(t *Table) {
		t.receiver = r
	}
}

// WithConnectionListener registers a lifecycle listener.
func WithConnectionListener(l api.ConnectionListener) Option {
	return func(t *Table) {
		t.listeners = append(t.listeners, l)
	}
}

// WithLogger replaces the default LOG_LEVEL-driven logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Table) {
		t.log = l
	}
}

// WithMetrics makes the table report into m instead of a private registry.
func WithMetrics(m *control.Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}
