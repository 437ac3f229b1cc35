// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"fmt"

	"github.com/momentics/hioload-conntable/api"
)

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = fmt.Errorf("executor is closed: %w", api.ErrStopped)
)
