// Package control contains the pump control state machine.
// It has no I/O: readings go in, output commands and decision events come
// out. Time is injectable through the controller clock.
package control

import (
	"errors"
	"time"
)

var (
	// ErrModeConflict is returned for manual start/stop requests in Auto mode.
	ErrModeConflict = errors.New("manual control is disabled in auto mode")
	// ErrNotStarted is returned for operator requests before the startup
	// sequence was issued.
	ErrNotStarted = errors.New("controller not started")
)

// Mode is the control mode.
type Mode int

const (
	Manual Mode = iota
	Auto
)

func (m Mode) String() string {
	if m == Auto {
		return "Auto"
	}
	return "Manual"
}

// OutputState is the state of a digital output (pump or lamp).
type OutputState bool

const (
	Off OutputState = false
	On  OutputState = true
)

func (s OutputState) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Flags selects the auxiliary views.
type Flags struct {
	Logging bool // Per-reading entries in the activity log and journal
	Chart   bool // Trend history recording
}

// EventKind classifies decision events.
type EventKind string

const (
	EventStartup     EventKind = "STARTUP"
	EventLevelOn     EventKind = "LEVEL_ON"
	EventLevelOff    EventKind = "LEVEL_OFF"
	EventProtection  EventKind = "PROTECTION"
	EventLockout     EventKind = "LOCKOUT"
	EventLamp        EventKind = "LAMP"
	EventManualStart EventKind = "MANUAL_START"
	EventManualStop  EventKind = "MANUAL_STOP"
	EventModeChange  EventKind = "MODE_CHANGE"
	EventSafetyReset EventKind = "SAFETY_RESET"
	EventRejected    EventKind = "REJECTED"
	EventSendFailure EventKind = "SEND_FAILURE"
	EventFlags       EventKind = "FLAGS"
	EventReading     EventKind = "READING"
	EventInput       EventKind = "INPUT"
)

// Event is an operator-facing record of something the controller decided or
// observed.
type Event struct {
	Time    time.Time
	Kind    EventKind
	Message string
}

// State is a point-in-time copy of the controller state.
type State struct {
	Mode        Mode
	Pump        OutputState
	Lamp        OutputState
	Level       float64 // m
	Pressure    float64 // Bar
	PressureRaw int
	Flags       Flags
	Started     bool
}
