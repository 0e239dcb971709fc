package mcu

import (
	"fmt"
	"sync"
)

// Fake is a scripted in-memory transport. Lines queued with Feed are returned
// by ReadLine in order; sent commands are recorded. Every call is appended to
// an operation log so that tests can assert ordering across goroutines.
type Fake struct {
	mu        sync.Mutex
	connected bool
	pending   []string
	sent      []string
	ops       []string

	OpenErr  error // returned by Open
	readErr  error
	sendErr  error
	sendErrN int // number of sends that fail with sendErr, <0 for all
}

// NewFake returns an unopened fake transport.
func NewFake() *Fake {
	return &Fake{}
}

// Feed queues lines for ReadLine.
func (f *Fake) Feed(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, lines...)
}

// FailRead makes the next ReadLine call with no pending lines fail with a
// ConnectionError wrapping err.
func (f *Fake) FailRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// FailSend makes the next n sends fail with err. n < 0 fails all sends.
func (f *Fake) FailSend(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
	f.sendErrN = n
}

// Sent returns the commands successfully sent so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Ops returns the operation log: "open", "send <cmd>", "send-failed <cmd>"
// and "close".
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Pending returns the number of lines not read yet.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Fake) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return &ConnectionError{Port: "fake", Op: "open", Err: f.OpenErr}
	}
	if f.connected {
		return ErrAlreadyConnected
	}
	f.connected = true
	f.ops = append(f.ops, "open")
	return nil
}

func (f *Fake) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		f.ops = append(f.ops, "send-failed "+cmd)
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrNotConnected)
	}
	if f.sendErr != nil && f.sendErrN != 0 {
		if f.sendErrN > 0 {
			f.sendErrN--
		}
		f.ops = append(f.ops, "send-failed "+cmd)
		return fmt.Errorf("%w: %w", ErrSendFailed, f.sendErr)
	}

	f.sent = append(f.sent, cmd)
	f.ops = append(f.ops, "send "+cmd)
	return nil
}

func (f *Fake) ReadLine() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return "", false, &ConnectionError{Port: "fake", Op: "read", Err: ErrNotConnected}
	}
	if len(f.pending) > 0 {
		line := f.pending[0]
		f.pending = f.pending[1:]
		return line, true, nil
	}
	if f.readErr != nil {
		return "", false, &ConnectionError{Port: "fake", Op: "read", Err: f.readErr}
	}
	return "", false, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil
	}
	f.connected = false
	f.ops = append(f.ops, "close")
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
