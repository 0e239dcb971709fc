package mcu

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/protocol"
)

const mockLineBuffer = 100

// Mock simulates the controller MCU attached to a tank and a pump. It honors
// the startup sequence: analog lines are produced only after ADC_Set and
// ADC_Loop, outputs follow OUT commands only after DO_Set.
type Mock struct {
	cfg        config.MockConfig
	adcMax     int
	pumpOutput int
	levelSpan  float64
	presSpan   float64

	lines     chan string
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	// Firmware state
	outputsEnabled bool
	adcEnabled     bool
	adcLoop        bool
	outputs        map[int]bool

	// Plant state
	level    float64 // m
	pressure float64 // Bar
	pumpIn   bool    // last reported pump feedback input
	rng      *rand.Rand
}

// NewMock creates a simulated MCU from configuration.
func NewMock(cfg *config.Config) *Mock {
	m := &Mock{
		cfg:        cfg.Mock,
		adcMax:     cfg.ADC.Max,
		pumpOutput: cfg.Control.PumpOutput,
		levelSpan:  5.0,
		presSpan:   10.0,
		rng:        rand.New(rand.NewPCG(1, 2)),
	}
	if ch, ok := cfg.Channel(config.ChannelWaterLevel); ok {
		m.levelSpan = ch.Max
	}
	if ch, ok := cfg.Channel(config.ChannelPressure); ok {
		m.presSpan = ch.Max
	}
	if m.cfg.SampleRate <= 0 {
		m.cfg.SampleRate = 50 * time.Millisecond
	}
	return m
}

// Open starts the simulation.
func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}

	m.connected = true
	m.outputsEnabled = false
	m.adcEnabled = false
	m.adcLoop = false
	m.outputs = make(map[int]bool)
	m.level = m.cfg.InitialLevel
	m.pressure = m.pressureTarget(false)
	m.pumpIn = false
	m.lines = make(chan string, mockLineBuffer)
	m.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.simulate(ctx, m.lines, m.done)

	return nil
}

// Close stops the simulation and waits for it to exit.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

// IsConnected returns whether the simulation is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Send applies a command to the simulated firmware.
func (m *Mock) Send(cmd string) error {
	c, err := protocol.ParseCommand(cmd)
	if err != nil {
		return fmt.Errorf("mock: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrNotConnected)
	}

	switch {
	case c.Raw == protocol.CmdEnableOutputs:
		m.outputsEnabled = true
	case c.Raw == protocol.CmdEnableADC:
		m.adcEnabled = true
	case c.Raw == protocol.CmdStartADCLoop:
		m.adcLoop = true
	case c.IsOutput() && m.outputsEnabled:
		m.outputs[c.Output] = c.On
	}
	return nil
}

// ReadLine returns the next simulated line, if any.
func (m *Mock) ReadLine() (string, bool, error) {
	m.mu.RLock()
	lines, connected := m.lines, m.connected
	m.mu.RUnlock()

	if !connected {
		return "", false, &ConnectionError{Port: "mock", Op: "read", Err: ErrNotConnected}
	}

	select {
	case line := <-lines:
		return line, true, nil
	default:
		return "", false, nil
	}
}

// Output returns the simulated state of a digital output.
func (m *Mock) Output(ch int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outputs[ch]
}

// Level returns the simulated water level in meters.
func (m *Mock) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

func (m *Mock) simulate(ctx context.Context, lines chan<- string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range m.step(m.cfg.SampleRate.Seconds()) {
				select {
				case lines <- line:
				default:
					// Nobody is reading, drop like a UART overrun.
				}
			}
		}
	}
}

// step advances the plant by dt seconds and returns the lines the firmware
// would print.
func (m *Mock) step(dt float64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pumping := m.outputs[m.pumpOutput]

	// Tank: constant inflow, pump drains while running.
	rate := m.cfg.InflowRate
	if pumping {
		rate -= m.cfg.PumpRate
	}
	m.level = clamp(m.level+rate*dt, 0, m.levelSpan)

	target := m.pressureTarget(pumping)
	alpha := 1.0
	if tau := m.cfg.PressureTau.Seconds(); tau > 0 {
		alpha = 1 - math.Exp(-dt/tau)
	}
	m.pressure += alpha * (target - m.pressure)

	var out []string
	if pumping != m.pumpIn {
		m.pumpIn = pumping
		state := 0
		if pumping {
			state = 1
		}
		out = append(out, fmt.Sprintf("IN0=%d", state))
	}

	if !m.adcEnabled || !m.adcLoop {
		return out
	}

	out = append(out,
		fmt.Sprintf("ADC%d=%d", config.ChannelWaterLevel, m.toADC(m.level, m.levelSpan)),
		fmt.Sprintf("ADC%d=%d", config.ChannelPressure, m.toADC(m.pressure, m.presSpan)),
	)
	return out
}

// pressureTarget is the settled line pressure: static head at rest, pump
// head while pumping, nothing once the tank has run dry.
func (m *Mock) pressureTarget(pumping bool) float64 {
	switch {
	case m.level <= 0:
		return 0
	case pumping:
		return m.cfg.PumpPressure
	default:
		return m.cfg.StaticPressure
	}
}

func (m *Mock) toADC(v, span float64) int {
	if span <= 0 {
		return 0
	}
	noise := (m.rng.Float64()*2 - 1) * m.cfg.NoiseLevel
	raw := (v/span + noise) * float64(m.adcMax)
	return int(clamp(math.Round(raw), 0, float64(m.adcMax)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
