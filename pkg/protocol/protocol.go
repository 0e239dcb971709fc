// Package protocol implements the line-oriented text protocol spoken by the
// pump controller microcontroller.
//
// Inbound lines carry analog readings ("ADC<n>=<v>") and digital input
// states ("IN<n>=<s>"). Outbound commands enable the peripherals once per
// session ("DO_Set", "ADC_Set", "ADC_Loop") and drive digital outputs
// ("OUT<n><s>").
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator is appended to every outbound command.
const Terminator = "\r\n"

const (
	prefixADC = "ADC"
	prefixIN  = "IN"
	prefixOUT = "OUT"
)

// Event is a decoded inbound telemetry line.
type Event interface {
	event()
}

// ChannelReading is a raw analog sample.
type ChannelReading struct {
	Channel int
	Raw     int
}

// DigitalInput is a digital input state change.
type DigitalInput struct {
	Channel int
	State   bool
}

func (ChannelReading) event() {}
func (DigitalInput) event()   {}

// DecodeError reports a malformed telemetry line.
type DecodeError struct {
	Line   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder parses inbound lines. ADCMax bounds accepted raw readings.
type Decoder struct {
	ADCMax int
}

// NewDecoder creates a decoder accepting raw readings in [0, adcMax].
func NewDecoder(adcMax int) *Decoder {
	return &Decoder{ADCMax: adcMax}
}

// Decode parses a single line. Lines that belong to neither the ADC nor the
// IN family return (nil, nil) so newer firmware can add telemetry without
// breaking older hosts.
func (d *Decoder) Decode(line string) (Event, error) {
	line = strings.TrimSpace(line)

	switch {
	case inFamily(line, prefixADC):
		ch, v, err := splitAssignment(line, prefixADC)
		if err != nil {
			return nil, err
		}
		if v < 0 || v > d.ADCMax {
			return nil, &DecodeError{Line: line, Reason: fmt.Sprintf("reading %d out of range [0, %d]", v, d.ADCMax)}
		}
		return ChannelReading{Channel: ch, Raw: v}, nil

	case inFamily(line, prefixIN):
		ch, v, err := splitAssignment(line, prefixIN)
		if err != nil {
			return nil, err
		}
		if v != 0 && v != 1 {
			return nil, &DecodeError{Line: line, Reason: fmt.Sprintf("input state %d is not 0 or 1", v)}
		}
		return DigitalInput{Channel: ch, State: v == 1}, nil
	}

	return nil, nil
}

// inFamily reports whether line starts with prefix followed by a channel
// number or the assignment itself, so "ADC=abc" is malformed while
// "ADC_Loop" or "INFO ..." is unrelated telemetry.
func inFamily(line, prefix string) bool {
	if !strings.HasPrefix(line, prefix) || len(line) == len(prefix) {
		return false
	}
	c := line[len(prefix)]
	return (c >= '0' && c <= '9') || c == '=' || c == '-' || c == ' '
}

// splitAssignment parses "<prefix><channel>=<value>".
func splitAssignment(line, prefix string) (int, int, error) {
	lhs, rhs, found := strings.Cut(strings.TrimPrefix(line, prefix), "=")
	if !found {
		return 0, 0, &DecodeError{Line: line, Reason: "missing '='"}
	}

	ch, err := strconv.Atoi(strings.TrimSpace(lhs))
	if err != nil {
		return 0, 0, &DecodeError{Line: line, Reason: "invalid channel", Err: err}
	}
	if ch < 0 {
		return 0, 0, &DecodeError{Line: line, Reason: fmt.Sprintf("negative channel %d", ch)}
	}

	v, err := strconv.Atoi(strings.TrimSpace(rhs))
	if err != nil {
		return 0, 0, &DecodeError{Line: line, Reason: "invalid value", Err: err}
	}

	return ch, v, nil
}
