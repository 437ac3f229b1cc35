//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) selector. An eventfd registered under token 0 implements Wakeup.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const wakeToken = 0

// epollSelector is a level-triggered epoll selector.
type epollSelector struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent

	mu     sync.RWMutex // guards closed against concurrent Wakeup/Close
	closed bool
}

// NewSelector constructs a new epoll-backed Selector.
func NewSelector() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	s := &epollSelector{epfd: epfd, wakefd: wakefd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return s, nil
}

// setToken stores the 64-bit token in the epoll user data (Fd and Pad words).
func setToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func getToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func toEpoll(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (s *epollSelector) ctl(op, fd int, token uint64, interest Interest) error {
	if token == wakeToken {
		return fmt.Errorf("reactor: token %d is reserved", wakeToken)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest)}
	setToken(&ev, token)
	return unix.EpollCtl(s.epfd, op, fd, &ev)
}

// Add registers fd.
func (s *epollSelector) Add(fd int, token uint64, interest Interest) error {
	if err := s.ctl(unix.EPOLL_CTL_ADD, fd, token, interest); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify changes the interest set of fd.
func (s *epollSelector) Modify(fd int, token uint64, interest Interest) error {
	if err := s.ctl(unix.EPOLL_CTL_MOD, fd, token, interest); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Delete removes fd.
func (s *epollSelector) Delete(fd int) error {
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks for readiness events.
func (s *epollSelector) Wait(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("reactor: empty event buffer")
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}
	if cap(s.raw) < len(events) {
		s.raw = make([]unix.EpollEvent, len(events))
	}
	raw := s.raw[:len(events)]
	if timeoutMs < 0 {
		timeoutMs = -1
	}

	n, err := unix.EpollWait(s.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		token := getToken(&raw[i])
		if token == wakeToken {
			s.drainWakeup()
			continue
		}
		var ready Interest
		if raw[i].Events&unix.EPOLLIN != 0 {
			ready |= Readable
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ready |= Hangup
		}
		events[out] = Event{Token: token, Ready: ready}
		out++
	}
	return out, nil
}

func (s *epollSelector) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(s.wakefd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// Wakeup increments the eventfd counter so the next or current Wait returns.
func (s *epollSelector) Wakeup() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(s.wakefd, one[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated; a wakeup is already pending.
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

// Close releases the epoll and eventfd descriptors.
func (s *epollSelector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err1 := unix.Close(s.wakefd)
	err2 := unix.Close(s.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
