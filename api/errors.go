// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the connection table.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrStopped          = errors.New("connection table stopped")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrBadHandshake     = errors.New("bad handshake")
	ErrNotSupported     = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBind
	ErrCodeConnect
	ErrCodeIO
	ErrCodeRegistration
	ErrCodeSaturation
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:           "ok",
	ErrCodeBind:         "bind",
	ErrCodeConnect:      "connect",
	ErrCodeIO:           "io",
	ErrCodeRegistration: "registration",
	ErrCodeSaturation:   "saturation",
	ErrCodeInternal:     "internal",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a structured error with code, cause and context.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// BindError reports that no port in [start, end] could be bound.
func BindError(start, end int, cause error) *Error {
	return NewError(ErrCodeBind, "no available port to bind to", cause).
		WithContext("start_port", start).
		WithContext("end_port", end)
}

// ConnectError reports an outbound connect or handshake failure.
func ConnectError(dest Address, cause error) *Error {
	return NewError(ErrCodeConnect, "connect to "+dest.String()+" failed", cause)
}

// IOError reports a read or write failure on an established connection.
func IOError(peer Address, cause error) *Error {
	return NewError(ErrCodeIO, "i/o on connection to "+peer.String()+" failed", cause)
}

// RegistrationError reports a channel closed before selector registration.
func RegistrationError(peer Address, cause error) *Error {
	return NewError(ErrCodeRegistration, "register connection to "+peer.String()+" failed", cause)
}

// SaturationError reports a full processor queue under the reject policy.
func SaturationError(capacity int) *Error {
	return NewError(ErrCodeSaturation, "processor queue full", nil).
		WithContext("capacity", capacity)
}
