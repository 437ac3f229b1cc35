// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral selector interface for readiness-based IO multiplexing.

package reactor

// Interest is a set of readiness conditions.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
	// Hangup is reported on error or peer hangup; it cannot be requested.
	Hangup
)

// Selector monitors file descriptors for readiness. Each descriptor is
// registered with a caller-chosen token that Wait reports back; tokens must
// be non-zero. A Selector is owned by one goroutine; only Wakeup and Close
// may be called from others.
type Selector interface {
	// Add registers fd with the given interest set.
	Add(fd int, token uint64, interest Interest) error

	// Modify replaces the interest set of a registered fd. An empty set keeps
	// the registration but only reports Hangup.
	Modify(fd int, token uint64, interest Interest) error

	// Delete removes fd from the selector.
	Delete(fd int) error

	// Wait blocks up to timeoutMs (negative = forever, 0 = poll) and fills
	// events. Wakeups are consumed internally and never reported, so n may
	// be 0 after a wakeup.
	Wait(events []Event, timeoutMs int) (n int, err error)

	// Wakeup makes a blocked or upcoming Wait return.
	Wakeup() error

	// Close releases the selector. Wait returns ErrClosed afterwards.
	Close() error
}

// Event is one readiness notification.
type Event struct {
	Token uint64
	Ready Interest
}
