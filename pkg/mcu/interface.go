package mcu

// Transport is a line-oriented connection to the pump controller MCU
// (real or simulated).
//
// ReadLine never waits for data: it returns ok == false when no complete line
// is buffered. A non-nil error means the connection is broken and is always a
// *ConnectionError. Send appends the line terminator and fails with
// ErrSendFailed instead of blocking when the write cannot proceed.
type Transport interface {
	Open() error
	Send(cmd string) error
	ReadLine() (line string, ok bool, err error)
	Close() error
	IsConnected() bool
}

var (
	_ Transport = (*Serial)(nil)
	_ Transport = (*Mock)(nil)
	_ Transport = (*Fake)(nil)
)
