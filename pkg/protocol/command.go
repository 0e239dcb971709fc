package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Startup commands, sent once per session in this order.
const (
	CmdEnableOutputs = "DO_Set"
	CmdEnableADC     = "ADC_Set"
	CmdStartADCLoop  = "ADC_Loop"
)

// Command is an outbound command. Output commands have Raw empty.
type Command struct {
	Raw    string // Literal command (startup sequence)
	Output int    // Digital output channel
	On     bool   // Requested output state
}

// SetOutput builds an OUT<n><s> command.
func SetOutput(output int, on bool) Command {
	return Command{Output: output, On: on}
}

// Literal builds a parameterless command.
func Literal(cmd string) Command {
	return Command{Raw: cmd}
}

// StartupSequence returns the commands enabling digital outputs and
// continuous analog sampling.
func StartupSequence() []Command {
	return []Command{
		Literal(CmdEnableOutputs),
		Literal(CmdEnableADC),
		Literal(CmdStartADCLoop),
	}
}

// IsOutput reports whether the command drives a digital output.
func (c Command) IsOutput() bool {
	return c.Raw == ""
}

// String renders the command in wire form without the terminator.
func (c Command) String() string {
	if !c.IsOutput() {
		return c.Raw
	}
	state := "0"
	if c.On {
		state = "1"
	}
	return prefixOUT + strconv.Itoa(c.Output) + state
}

// ParseCommand decodes a wire command. The last digit of an OUT command is
// the state, everything between the prefix and it is the channel.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)

	switch s {
	case CmdEnableOutputs, CmdEnableADC, CmdStartADCLoop:
		return Literal(s), nil
	}

	if !strings.HasPrefix(s, prefixOUT) {
		return Command{}, fmt.Errorf("unknown command %q", s)
	}

	body := strings.TrimPrefix(s, prefixOUT)
	if len(body) < 2 {
		return Command{}, fmt.Errorf("output command %q too short", s)
	}

	ch, err := strconv.Atoi(body[:len(body)-1])
	if err != nil || ch < 0 {
		return Command{}, fmt.Errorf("output command %q: invalid channel", s)
	}

	switch body[len(body)-1] {
	case '0':
		return SetOutput(ch, false), nil
	case '1':
		return SetOutput(ch, true), nil
	}
	return Command{}, fmt.Errorf("output command %q: invalid state", s)
}
