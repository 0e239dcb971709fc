package mcu

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when the transport is used before Open or
	// after Close.
	ErrNotConnected = errors.New("not connected")
	// ErrSendFailed is returned when a command could not be written. The
	// command was not delivered and may be retried.
	ErrSendFailed = errors.New("send failed")
	// ErrAlreadyConnected is returned by Open on an open transport.
	ErrAlreadyConnected = errors.New("already connected")
)

// ConnectionError reports a failure to open the port or an I/O failure on an
// open port. The connection is unusable afterwards.
type ConnectionError struct {
	Port string
	Op   string // "open", "read" or "write"
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
