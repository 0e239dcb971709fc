package control

import (
	"errors"
	"testing"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/protocol"
	"github.com/itohio/pumpctl/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func testConfig() config.ControlConfig {
	return config.Default().Control
}

// newStarted returns a started controller with the startup commands drained.
func newStarted(t *testing.T, cfg config.ControlConfig) (*Controller, *testClock) {
	t.Helper()
	clk := &testClock{now: t0}
	c := New(cfg, clk.Now)
	require.NotEmpty(t, c.Start())
	c.Events()
	return c, clk
}

func level(v float64) sensor.Reading {
	return sensor.Reading{Channel: config.ChannelWaterLevel, Raw: int(v / 5.0 * 1023), Value: v, Unit: "m", Name: "Water Level"}
}

func pressure(v float64) sensor.Reading {
	return sensor.Reading{Channel: config.ChannelPressure, Raw: int(v / 10.0 * 1023), Value: v, Unit: "Bar", Name: "Pressure"}
}

func pressureRaw(raw int) sensor.Reading {
	return sensor.Reading{Channel: config.ChannelPressure, Raw: raw, Value: sensor.Scale(raw, 1023, 10), Unit: "Bar", Name: "Pressure"}
}

func strs(cmds []protocol.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestController_Start(t *testing.T) {
	c := New(testConfig(), nil)

	assert.Nil(t, c.Evaluate(t0), "nothing is evaluated before start")

	cmds := c.Start()
	assert.Equal(t, []string{"DO_Set", "ADC_Set", "ADC_Loop", "OUT10", "OUT30"}, strs(cmds))
	assert.Nil(t, c.Start(), "second start is a no-op")

	s := c.Snapshot()
	assert.True(t, s.Started)
	assert.Equal(t, Manual, s.Mode)
	assert.Equal(t, Off, s.Pump)
	assert.Equal(t, Off, s.Lamp)
	assert.Equal(t, []EventKind{EventStartup}, kinds(c.Events()))
}

func TestController_NotStarted(t *testing.T) {
	c := New(testConfig(), nil)

	_, err := c.SetMode(Auto)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = c.RequestStart()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = c.RequestStop()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestController_AutoFullTankStartsPump(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(sensor.Reading{Channel: config.ChannelWaterLevel, Raw: 1023, Value: 5.0})
	cmds := c.Evaluate(clk.Advance(100 * time.Millisecond))

	assert.Equal(t, []string{"OUT11"}, strs(cmds))
	assert.Equal(t, On, c.Snapshot().Pump)
}

func TestController_Hysteresis(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)
	c.ApplyReading(pressure(3.0))

	var pumpCmds []string
	step := func(v float64) {
		c.ApplyReading(level(v))
		for _, cmd := range c.Evaluate(clk.Advance(100 * time.Millisecond)) {
			if cmd.Output == 1 {
				pumpCmds = append(pumpCmds, cmd.String())
			}
		}
	}

	step(2.0) // Below on threshold, stays off
	assert.Empty(t, pumpCmds)

	step(2.6)
	assert.Equal(t, []string{"OUT11"}, pumpCmds)

	// Fluctuation between the thresholds must not produce any command.
	for _, v := range []float64{2.4, 1.0, 2.7, 0.6, 2.5, 0.51, 3.0} {
		step(v)
	}
	assert.Equal(t, []string{"OUT11"}, pumpCmds)

	step(0.5)
	assert.Equal(t, []string{"OUT11", "OUT10"}, pumpCmds)

	// And back up within the band: stays off.
	for _, v := range []float64{1.0, 2.0, 2.5} {
		step(v)
	}
	assert.Equal(t, []string{"OUT11", "OUT10"}, pumpCmds)
}

func TestController_ProtectionOverridesLevel(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(3.0))
	require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
	c.Events()

	c.ApplyReading(pressure(0.5))
	cmds := c.Evaluate(clk.Advance(100 * time.Millisecond))

	assert.Equal(t, []string{"OUT10"}, strs(cmds))
	assert.Equal(t, Off, c.Snapshot().Pump)
	assert.Equal(t, []EventKind{EventProtection}, kinds(c.Events()))
}

func TestController_ProtectionAtThreshold(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(2.0))
	c.Evaluate(clk.Advance(100 * time.Millisecond))

	c.ApplyReading(sensor.Reading{Channel: config.ChannelPressure, Raw: 102, Value: 1.0})
	assert.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
}

func TestController_ProtectionLockout(t *testing.T) {
	cfg := testConfig()
	cfg.ProtectionLockout = 5 * time.Second
	c, clk := newStarted(t, cfg)
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(3.0))
	require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))

	c.ApplyReading(pressure(0.2))
	require.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
	c.Events()

	// Level is still high, but the restart is held.
	c.ApplyReading(pressure(3.0))
	assert.Empty(t, c.Evaluate(clk.Advance(100*time.Millisecond)))
	assert.Empty(t, c.Evaluate(clk.Advance(time.Second)))
	assert.Equal(t, []EventKind{EventLockout}, kinds(c.Events()), "lockout is reported once")

	assert.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(5*time.Second))))
}

func TestController_DefaultsRestartAfterTrip(t *testing.T) {
	c, clk := newStarted(t, config.Default().Control)
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(3.0))
	require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))

	c.ApplyReading(pressure(0.5))
	require.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))

	c.ApplyReading(pressure(5.0))
	assert.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))),
		"level rule restarts the pump on the next tick")
}

func TestController_DefaultsTripFreshPump(t *testing.T) {
	c, clk := newStarted(t, config.Default().Control)
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	// Running for less than a tick.
	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(3.0))
	require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))

	c.ApplyReading(pressure(0.5))
	assert.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(time.Millisecond))))
	assert.Equal(t, Off, c.Snapshot().Pump)
}

func TestController_ProtectionOverridesLevelSameTick(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)
	c.Events()

	c.ApplyReading(level(5.0))
	c.ApplyReading(pressure(0))
	cmds := c.Evaluate(clk.Advance(100 * time.Millisecond))

	assert.Equal(t, []string{"OUT10"}, strs(cmds), "one command for the pump output")
	assert.Equal(t, Off, c.Snapshot().Pump)
	assert.Equal(t, []EventKind{EventLevelOn, EventProtection}, kinds(c.Events()))

	// Pressure recovers: the level rule starts the pump.
	c.ApplyReading(pressure(2.0))
	assert.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
}

func TestController_PrimingGrace(t *testing.T) {
	cfg := testConfig()
	cfg.PrimingGrace = time.Second
	c, clk := newStarted(t, cfg)
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	c.ApplyReading(pressure(0.1))
	require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))

	assert.Empty(t, c.Evaluate(clk.Advance(500*time.Millisecond)), "still priming")
	assert.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(500*time.Millisecond))))
}

func TestController_NoProtectionBeforePressureReading(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	assert.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
	assert.Empty(t, c.Evaluate(clk.Advance(100*time.Millisecond)))
}

func TestController_LampEdgeTriggered(t *testing.T) {
	tests := []struct {
		name string
		raws []int
		want []string
	}{
		{name: "stays below", raws: []int{100, 200, 600}, want: nil},
		{name: "rises once", raws: []int{601, 700, 800}, want: []string{"OUT31"}},
		{name: "rise and fall", raws: []int{700, 701, 600, 500}, want: []string{"OUT31", "OUT30"}},
		{name: "toggles", raws: []int{900, 100, 900}, want: []string{"OUT31", "OUT30", "OUT31"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newStarted(t, testConfig())
			_, err := c.SetMode(Auto)
			require.NoError(t, err)

			var got []string
			for _, raw := range tt.raws {
				c.ApplyReading(pressureRaw(raw))
				got = append(got, strs(c.Evaluate(clk.Advance(100*time.Millisecond)))...)
			}
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestController_ManualRejectedInAuto(t *testing.T) {
	c, _ := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)
	c.Events()

	cmds, err := c.RequestStart()
	assert.ErrorIs(t, err, ErrModeConflict)
	assert.Empty(t, cmds)

	cmds, err = c.RequestStop()
	assert.ErrorIs(t, err, ErrModeConflict)
	assert.Empty(t, cmds)

	assert.Equal(t, []EventKind{EventRejected, EventRejected}, kinds(c.Events()))
	assert.Equal(t, Off, c.Snapshot().Pump)
}

func TestController_ManualStartStop(t *testing.T) {
	c, _ := newStarted(t, testConfig())

	cmds, err := c.RequestStart()
	require.NoError(t, err)
	assert.Equal(t, []string{"OUT11"}, strs(cmds))

	cmds, err = c.RequestStart()
	require.NoError(t, err)
	assert.Empty(t, cmds, "start while running is a no-op")

	cmds, err = c.RequestStop()
	require.NoError(t, err)
	assert.Equal(t, []string{"OUT10"}, strs(cmds))

	cmds, err = c.RequestStop()
	require.NoError(t, err)
	assert.Empty(t, cmds, "stop while stopped is a no-op")

	assert.Equal(t, []EventKind{EventManualStart, EventManualStop}, kinds(c.Events()))
}

func TestController_ManualIgnoresReadings(t *testing.T) {
	c, clk := newStarted(t, testConfig())

	c.ApplyReading(level(5.0))
	c.ApplyReading(pressureRaw(1000))
	assert.Empty(t, c.Evaluate(clk.Advance(100*time.Millisecond)))

	s := c.Snapshot()
	assert.Equal(t, Off, s.Pump)
	assert.Equal(t, Off, s.Lamp)
	assert.InDelta(t, 5.0, s.Level, 1e-9)
}

func TestController_AutoToManualSafetyReset(t *testing.T) {
	tests := []struct {
		name    string
		running bool
	}{
		{name: "pump running", running: true},
		{name: "pump already off", running: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newStarted(t, testConfig())
			_, err := c.SetMode(Auto)
			require.NoError(t, err)

			if tt.running {
				c.ApplyReading(level(4.0))
				require.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
			}

			cmds, err := c.SetMode(Manual)
			require.NoError(t, err)
			assert.Equal(t, []string{"OUT10"}, strs(cmds))
			assert.Equal(t, Off, c.Snapshot().Pump)

			cmds, err = c.SetMode(Manual)
			require.NoError(t, err)
			assert.Empty(t, cmds, "reset is emitted exactly once")
		})
	}
}

func TestController_ManualToAutoSendsNothing(t *testing.T) {
	c, _ := newStarted(t, testConfig())

	cmds, err := c.SetMode(Auto)
	require.NoError(t, err)
	assert.Empty(t, cmds)
	assert.Equal(t, Auto, c.Snapshot().Mode)
	assert.Equal(t, []EventKind{EventModeChange}, kinds(c.Events()))
}

func TestController_CommandFailedAutoRetries(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(level(4.0))
	cmds := c.Evaluate(clk.Advance(100 * time.Millisecond))
	require.Equal(t, []string{"OUT11"}, strs(cmds))

	c.CommandFailed(cmds[0], errors.New("busy"))
	assert.Equal(t, Off, c.Snapshot().Pump)

	assert.Equal(t, []string{"OUT11"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
}

func TestController_CommandFailedLampRetries(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	_, err := c.SetMode(Auto)
	require.NoError(t, err)

	c.ApplyReading(pressureRaw(900))
	cmds := c.Evaluate(clk.Advance(100 * time.Millisecond))
	require.Equal(t, []string{"OUT31"}, strs(cmds))

	c.CommandFailed(cmds[0], errors.New("busy"))
	assert.Equal(t, []string{"OUT31"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
}

func TestController_CommandFailedManualStopRetried(t *testing.T) {
	c, clk := newStarted(t, testConfig())

	_, err := c.RequestStart()
	require.NoError(t, err)
	cmds, err := c.RequestStop()
	require.NoError(t, err)
	require.Equal(t, []string{"OUT10"}, strs(cmds))

	c.CommandFailed(cmds[0], errors.New("closed"))
	assert.Equal(t, On, c.Snapshot().Pump, "pump is not assumed stopped")
	c.Events()

	assert.Equal(t, []string{"OUT10"}, strs(c.Evaluate(clk.Advance(100*time.Millisecond))))
	assert.Equal(t, Off, c.Snapshot().Pump)
	assert.Equal(t, []EventKind{EventSafetyReset}, kinds(c.Events()))

	assert.Empty(t, c.Evaluate(clk.Advance(100*time.Millisecond)))
}

func TestController_CommandFailedManualStartNotRetried(t *testing.T) {
	c, clk := newStarted(t, testConfig())

	cmds, err := c.RequestStart()
	require.NoError(t, err)
	c.CommandFailed(cmds[0], errors.New("busy"))

	assert.Equal(t, Off, c.Snapshot().Pump)
	assert.Empty(t, c.Evaluate(clk.Advance(100*time.Millisecond)))
}

func TestController_CommandFailedStale(t *testing.T) {
	c, _ := newStarted(t, testConfig())

	on, err := c.RequestStart()
	require.NoError(t, err)
	_, err = c.RequestStop()
	require.NoError(t, err)

	// The pump-on failure arrives after the pump was already switched off.
	c.CommandFailed(on[0], errors.New("busy"))
	assert.Equal(t, Off, c.Snapshot().Pump)
}

func TestController_LoggingGatesReadingEvents(t *testing.T) {
	c, _ := newStarted(t, testConfig())

	c.ApplyReading(level(1.0))
	c.ApplyInput(2, true)
	assert.Empty(t, c.Events())

	assert.True(t, c.ToggleLogging())
	c.ApplyReading(level(1.0))
	c.ApplyInput(2, true)

	ev := c.Events()
	require.Len(t, ev, 3)
	assert.Equal(t, []EventKind{EventFlags, EventReading, EventInput}, kinds(ev))
	assert.Equal(t, "Water Level: 1.00 m (ADC: 204)", ev[1].Message)
	assert.Equal(t, "Digital Input 2: HIGH", ev[2].Message)

	assert.False(t, c.ToggleLogging())
}

func TestController_ToggleChart(t *testing.T) {
	c, _ := newStarted(t, testConfig())

	assert.True(t, c.ToggleChart())
	assert.Equal(t, Flags{Chart: true}, c.Flags())
	assert.False(t, c.ToggleChart())
	assert.Equal(t, Flags{}, c.Flags())
}

func TestController_EventsCarryClock(t *testing.T) {
	c, clk := newStarted(t, testConfig())
	clk.Advance(time.Minute)

	_, err := c.RequestStart()
	require.NoError(t, err)

	ev := c.Events()
	require.Len(t, ev, 1)
	assert.Equal(t, t0.Add(time.Minute), ev[0].Time)
	assert.Empty(t, c.Events(), "events are drained")
}
