package mcu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/pumpctl/pkg/protocol"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate of the controller firmware.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single ReadLine call when no data is pending.
	DefaultReadTimeout = 5 * time.Millisecond
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the controller MCU over a serial port.
type Serial struct {
	port        string
	baudRate    int
	readTimeout time.Duration
	log         zerolog.Logger

	mu        sync.RWMutex // guards conn and connected
	conn      serial.Port
	connected bool

	readMu  sync.Mutex // guards lines and readBuf
	lines   lineBuffer
	readBuf []byte

	writeMu sync.Mutex
}

// NewSerial creates a serial transport for the given port and baud rate.
func NewSerial(port string, baudRate int, log zerolog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:        port,
		baudRate:    baudRate,
		readTimeout: DefaultReadTimeout,
		log:         log.With().Str("port", port).Logger(),
		readBuf:     make([]byte, 256),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Open opens the serial port.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return ErrAlreadyConnected
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return &ConnectionError{Port: s.port, Op: "open", Err: err}
	}
	if err := conn.SetReadTimeout(s.readTimeout); err != nil {
		conn.Close()
		return &ConnectionError{Port: s.port, Op: "open", Err: err}
	}

	s.readMu.Lock()
	s.lines.reset()
	s.readMu.Unlock()

	s.conn = conn
	s.connected = true
	s.log.Info().Int("baud", s.baudRate).Msg("serial port opened")
	return nil
}

// Close closes the port. Closing a closed transport is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false

	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", s.port, err)
	}
	s.log.Info().Msg("serial port closed")
	return nil
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Send writes cmd followed by the line terminator. It does not wait for a
// write already in progress.
func (s *Serial) Send(cmd string) error {
	if !s.writeMu.TryLock() {
		return fmt.Errorf("%w: write in progress", ErrSendFailed)
	}
	defer s.writeMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrNotConnected)
	}

	if _, err := s.conn.Write([]byte(cmd + protocol.Terminator)); err != nil {
		return &ConnectionError{Port: s.port, Op: "write", Err: err}
	}
	s.log.Debug().Str("cmd", cmd).Msg("sent")
	return nil
}

// ReadLine returns the next buffered line. When none is buffered it reads
// from the port for at most the read timeout.
func (s *Serial) ReadLine() (string, bool, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if line, ok := s.lines.next(); ok {
		return line, true, nil
	}

	s.mu.RLock()
	conn, connected := s.conn, s.connected
	s.mu.RUnlock()
	if !connected {
		return "", false, &ConnectionError{Port: s.port, Op: "read", Err: ErrNotConnected}
	}

	n, err := conn.Read(s.readBuf)
	if err != nil {
		if !s.IsConnected() {
			err = errors.Join(ErrNotConnected, err)
		}
		return "", false, &ConnectionError{Port: s.port, Op: "read", Err: err}
	}
	if n == 0 {
		// Read timeout
		return "", false, nil
	}

	s.lines.write(s.readBuf[:n])
	line, ok := s.lines.next()
	return line, ok, nil
}
