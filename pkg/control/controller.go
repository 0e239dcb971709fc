package control

import (
	"fmt"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/protocol"
	"github.com/itohio/pumpctl/pkg/sensor"
)

// Controller owns the mode, pump and lamp state and turns readings and
// operator requests into output commands. It is not safe for concurrent use.
type Controller struct {
	cfg   config.ControlConfig
	clock func() time.Time

	mode  Mode
	pump  OutputState
	lamp  OutputState
	flags Flags

	level        float64
	pressure     float64
	pressureRaw  int
	haveLevel    bool
	havePressure bool

	started       bool
	resetPending  bool      // failed pump-off in Manual mode, re-sent on next Evaluate
	pumpStartedAt time.Time // when the pump was last switched on
	trippedAt     time.Time // last protection trip, zero if none
	lockoutNoted  bool

	events []Event
}

// New creates a controller in Manual mode with the pump and lamp off.
// A nil clock uses time.Now.
func New(cfg config.ControlConfig, clock func() time.Time) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		cfg:   cfg,
		clock: clock,
		mode:  Manual,
		pump:  Off,
		lamp:  Off,
	}
}

// Start returns the session startup commands followed by commands driving
// the pump and lamp outputs to their initial Off state. Subsequent calls
// return nil.
func (c *Controller) Start() []protocol.Command {
	if c.started {
		return nil
	}
	c.started = true

	cmds := protocol.StartupSequence()
	cmds = append(cmds, c.pumpCommand(Off), c.lampCommand(Off))
	c.record(EventStartup, "System started.")
	return cmds
}

// ApplyReading updates the last known level or pressure.
func (c *Controller) ApplyReading(r sensor.Reading) {
	switch r.Channel {
	case config.ChannelWaterLevel:
		c.level = r.Value
		c.haveLevel = true
	case config.ChannelPressure:
		c.pressure = r.Value
		c.pressureRaw = r.Raw
		c.havePressure = true
	default:
		// Other channels are displayed but do not take part in control.
	}

	if c.flags.Logging {
		c.record(EventReading, fmt.Sprintf("%s: %.2f %s (ADC: %d)", r.Name, r.Value, r.Unit, r.Raw))
	}
}

// ApplyInput records a digital input change.
func (c *Controller) ApplyInput(channel int, high bool) {
	if !c.flags.Logging {
		return
	}
	level := "LOW"
	if high {
		level = "HIGH"
	}
	c.record(EventInput, fmt.Sprintf("Digital Input %d: %s", channel, level))
}

// Evaluate runs the automatic control rules and returns the output commands
// to send. In Manual mode it only re-issues a pending safety reset.
//
// Rules run in priority order: level control, pressure protection (which
// overrides level control), lamp indication. At most one command per output
// is produced per call.
func (c *Controller) Evaluate(now time.Time) []protocol.Command {
	if !c.started {
		return nil
	}

	var cmds []protocol.Command

	if c.mode == Manual {
		if c.resetPending {
			c.resetPending = false
			c.pump = Off
			cmds = append(cmds, c.pumpCommand(Off))
			c.recordAt(now, EventSafetyReset, "Retrying pump OFF after failed send.")
		}
		return cmds
	}

	pumpOn := -1 // index of a pump-on command issued by the level rule

	if c.haveLevel {
		switch {
		case c.level > c.cfg.LevelOn && c.pump == Off:
			if c.lockedOut(now) {
				if !c.lockoutNoted {
					c.lockoutNoted = true
					c.recordAt(now, EventLockout, fmt.Sprintf(
						"Auto Mode: restart held for %v after low pressure trip.", c.cfg.ProtectionLockout))
				}
				break
			}
			c.setPump(On, now)
			pumpOn = len(cmds)
			cmds = append(cmds, c.pumpCommand(On))
			c.recordAt(now, EventLevelOn, fmt.Sprintf(
				"Auto Mode: Water Level HIGH (%.2fm > %.2fm), turning pump ON.", c.level, c.cfg.LevelOn))

		case c.level <= c.cfg.LevelOff && c.pump == On:
			c.setPump(Off, now)
			cmds = append(cmds, c.pumpCommand(Off))
			c.recordAt(now, EventLevelOff, fmt.Sprintf(
				"Auto Mode: Water Level LOW (%.2fm <= %.2fm), turning pump OFF.", c.level, c.cfg.LevelOff))
		}
	}

	// Protection overrides a pump-on issued above in the same call. A
	// non-zero priming grace exempts a freshly started pump.
	if c.havePressure && c.pump == On &&
		now.Sub(c.pumpStartedAt) >= c.cfg.PrimingGrace &&
		c.pressure <= c.cfg.PressureProtect {
		c.setPump(Off, now)
		c.trippedAt = now
		c.lockoutNoted = false
		if pumpOn >= 0 {
			cmds = append(cmds[:pumpOn], cmds[pumpOn+1:]...)
		}
		cmds = append(cmds, c.pumpCommand(Off))
		c.recordAt(now, EventProtection, fmt.Sprintf(
			"Auto Mode: WARNING! Pressure LOW (%.2f Bar <= %.2f Bar), turning pump OFF for protection.",
			c.pressure, c.cfg.PressureProtect))
	}

	if c.havePressure {
		desired := OutputState(c.pressureRaw > c.cfg.LampThreshold)
		if desired != c.lamp {
			c.lamp = desired
			cmds = append(cmds, c.lampCommand(desired))
			c.recordAt(now, EventLamp, fmt.Sprintf(
				"Auto Mode: Pressure %.2f Bar (ADC: %d), lamp %s.", c.pressure, c.pressureRaw, desired))
		}
	}

	return cmds
}

// SetMode switches the control mode. Leaving Auto mode always commands the
// pump off, whatever state Auto left it in.
func (c *Controller) SetMode(m Mode) ([]protocol.Command, error) {
	if !c.started {
		return nil, ErrNotStarted
	}
	if m == c.mode {
		return nil, nil
	}

	c.mode = m
	if m == Auto {
		c.record(EventModeChange, "Mode changed to Auto.")
		return nil, nil
	}

	c.resetPending = false
	c.setPump(Off, c.clock())
	c.record(EventSafetyReset, "Mode changed to Manual, pump turned OFF.")
	return []protocol.Command{c.pumpCommand(Off)}, nil
}

// RequestStart turns the pump on in Manual mode.
func (c *Controller) RequestStart() ([]protocol.Command, error) {
	return c.manual(On)
}

// RequestStop turns the pump off in Manual mode.
func (c *Controller) RequestStop() ([]protocol.Command, error) {
	return c.manual(Off)
}

func (c *Controller) manual(target OutputState) ([]protocol.Command, error) {
	if !c.started {
		return nil, ErrNotStarted
	}
	if c.mode == Auto {
		c.record(EventRejected, "Cannot control the pump manually in Auto mode.")
		return nil, ErrModeConflict
	}
	if c.pump == target {
		return nil, nil
	}

	c.setPump(target, c.clock())
	if target == On {
		c.record(EventManualStart, "Manual: pump turned ON.")
	} else {
		c.resetPending = false
		c.record(EventManualStop, "Manual: pump turned OFF.")
	}
	return []protocol.Command{c.pumpCommand(target)}, nil
}

// CommandFailed reverts the tracked state changed by cmd, which could not be
// sent. Auto rules re-fire on the next Evaluate. A failed pump-off in Manual
// mode is re-sent by the next Evaluate.
func (c *Controller) CommandFailed(cmd protocol.Command, err error) {
	c.record(EventSendFailure, fmt.Sprintf("Command %s not sent: %v", cmd, err))
	if !cmd.IsOutput() {
		return
	}

	state := OutputState(cmd.On)
	switch cmd.Output {
	case c.cfg.PumpOutput:
		if c.pump == state {
			c.pump = !state
		}
		if state == Off && c.mode == Manual {
			c.resetPending = true
		}
	case c.cfg.LampOutput:
		if c.lamp == state {
			c.lamp = !state
		}
	}
}

// ToggleLogging flips the logging flag and returns its new value.
func (c *Controller) ToggleLogging() bool {
	c.flags.Logging = !c.flags.Logging
	if c.flags.Logging {
		c.record(EventFlags, "Logging enabled.")
	} else {
		c.record(EventFlags, "Logging disabled.")
	}
	return c.flags.Logging
}

// ToggleChart flips the chart flag and returns its new value.
func (c *Controller) ToggleChart() bool {
	c.flags.Chart = !c.flags.Chart
	if c.flags.Chart {
		c.record(EventFlags, "Chart enabled.")
	} else {
		c.record(EventFlags, "Chart disabled.")
	}
	return c.flags.Chart
}

// Flags returns the current view flags.
func (c *Controller) Flags() Flags {
	return c.flags
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	return State{
		Mode:        c.mode,
		Pump:        c.pump,
		Lamp:        c.lamp,
		Level:       c.level,
		Pressure:    c.pressure,
		PressureRaw: c.pressureRaw,
		Flags:       c.flags,
		Started:     c.started,
	}
}

// Events drains the events recorded since the last call.
func (c *Controller) Events() []Event {
	ev := c.events
	c.events = nil
	return ev
}

func (c *Controller) setPump(s OutputState, now time.Time) {
	if s == On && c.pump == Off {
		c.pumpStartedAt = now
	}
	c.pump = s
}

func (c *Controller) lockedOut(now time.Time) bool {
	return c.cfg.ProtectionLockout > 0 &&
		!c.trippedAt.IsZero() &&
		now.Sub(c.trippedAt) < c.cfg.ProtectionLockout
}

func (c *Controller) pumpCommand(s OutputState) protocol.Command {
	return protocol.SetOutput(c.cfg.PumpOutput, bool(s))
}

func (c *Controller) lampCommand(s OutputState) protocol.Command {
	return protocol.SetOutput(c.cfg.LampOutput, bool(s))
}

func (c *Controller) record(kind EventKind, msg string) {
	c.recordAt(c.clock(), kind, msg)
}

func (c *Controller) recordAt(t time.Time, kind EventKind, msg string) {
	c.events = append(c.events, Event{Time: t, Kind: kind, Message: msg})
}
