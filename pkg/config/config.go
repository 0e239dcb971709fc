package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known sensor channel identifiers.
const (
	ChannelWaterLevel = 0
	ChannelPressure   = 1
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig    `yaml:"serial"`
	ADC      ADCConfig       `yaml:"adc"`
	Channels []ChannelConfig `yaml:"channels"`
	Control  ControlConfig   `yaml:"control"`
	Dispatch DispatchConfig  `yaml:"dispatch"`
	Mock     MockConfig      `yaml:"mock"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Journal  JournalConfig   `yaml:"journal"`
	Log      LogConfig       `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// ADCConfig describes the microcontroller's analog converter.
type ADCConfig struct {
	Max            int `yaml:"max"`             // Full-scale raw reading (1023 for 10-bit)
	AverageSamples int `yaml:"average_samples"` // Moving average window (0 = disabled)
}

// ChannelConfig maps a raw ADC channel to a physical quantity.
type ChannelConfig struct {
	ID   int     `yaml:"id"`
	Name string  `yaml:"name"`
	Unit string  `yaml:"unit"`
	Max  float64 `yaml:"max"` // Physical value at ADC full scale
}

// ControlConfig contains the automatic control thresholds and output wiring.
type ControlConfig struct {
	PumpOutput        int           `yaml:"pump_output"`
	LampOutput        int           `yaml:"lamp_output"`
	LevelOn           float64       `yaml:"level_on"`           // m, pump starts above
	LevelOff          float64       `yaml:"level_off"`          // m, pump stops at or below
	PressureProtect   float64       `yaml:"pressure_protect"`   // Bar, dry-run protection at or below
	LampThreshold     int           `yaml:"lamp_threshold"`     // raw ADC, lamp lit above
	ProtectionLockout time.Duration `yaml:"protection_lockout"` // 0 = restart allowed on next tick
	PrimingGrace      time.Duration `yaml:"priming_grace"`      // 0 = protection armed immediately
}

// DispatchConfig contains loop timing.
type DispatchConfig struct {
	Tick         time.Duration `yaml:"tick"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MockConfig contains simulated plant configuration.
type MockConfig struct {
	InitialLevel   float64       `yaml:"initial_level"`   // m
	InflowRate     float64       `yaml:"inflow_rate"`     // m/s of tank filling
	PumpRate       float64       `yaml:"pump_rate"`       // m/s drained while pump runs
	PumpPressure   float64       `yaml:"pump_pressure"`   // Bar while pumping with water available
	StaticPressure float64       `yaml:"static_pressure"` // Bar at rest with water above the intake
	PressureTau    time.Duration `yaml:"pressure_tau"`    // Pressure settling time constant
	NoiseLevel     float64       `yaml:"noise_level"`     // Fraction of full scale
	SampleRate     time.Duration `yaml:"sample_rate"`
}

// MQTTConfig enables publishing to a broker. Empty broker disables publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MetricsConfig enables the Prometheus endpoint. Empty address disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// JournalConfig enables the persistent event journal. Empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "COM23", // "/dev/ttyUSB0" or "/dev/ttyACM0" on Linux
			BaudRate: 115200,
		},
		ADC: ADCConfig{
			Max:            1023,
			AverageSamples: 0,
		},
		Channels: []ChannelConfig{
			{ID: ChannelWaterLevel, Name: "Water Level", Unit: "m", Max: 5.0},
			{ID: ChannelPressure, Name: "Pressure", Unit: "Bar", Max: 10.0},
		},
		Control: ControlConfig{
			PumpOutput:      1,
			LampOutput:      3,
			LevelOn:         2.5,
			LevelOff:        0.5,
			PressureProtect: 1.0,
			LampThreshold:   600,
		},
		Dispatch: DispatchConfig{
			Tick:         100 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
		Mock: MockConfig{
			InitialLevel:   2.0,
			InflowRate:     0.02,
			PumpRate:       0.05,
			PumpPressure:   6.5,
			StaticPressure: 2.0,
			PressureTau:    300 * time.Millisecond,
			NoiseLevel:     0.002,
			SampleRate:     50 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			ClientID:    "pumpctl",
			TopicPrefix: "pumpctl",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Channel returns the configuration of the channel with the given id.
func (c *Config) Channel(id int) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// Validate checks relations between fields that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	if c.ADC.Max <= 0 {
		errs = append(errs, fmt.Errorf("adc.max must be positive, got %d", c.ADC.Max))
	}
	if c.ADC.AverageSamples < 0 {
		errs = append(errs, fmt.Errorf("adc.average_samples must not be negative"))
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Max <= 0 {
			errs = append(errs, fmt.Errorf("channel %d: max must be positive", ch.ID))
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("channel %d: defined twice", ch.ID))
		}
		seen[ch.ID] = true
	}
	if c.Control.LevelOff >= c.Control.LevelOn {
		errs = append(errs, fmt.Errorf("control.level_off (%.2f) must be below control.level_on (%.2f)",
			c.Control.LevelOff, c.Control.LevelOn))
	}
	if c.Control.LampThreshold < 0 || c.Control.LampThreshold > c.ADC.Max {
		errs = append(errs, fmt.Errorf("control.lamp_threshold %d outside [0, %d]", c.Control.LampThreshold, c.ADC.Max))
	}
	if c.Control.PumpOutput == c.Control.LampOutput {
		errs = append(errs, fmt.Errorf("control.pump_output and control.lamp_output share channel %d", c.Control.PumpOutput))
	}
	if c.Control.PumpOutput < 0 || c.Control.LampOutput < 0 {
		errs = append(errs, fmt.Errorf("output channels must not be negative"))
	}
	if c.Dispatch.Tick <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.tick must be positive"))
	}
	if c.Dispatch.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.poll_interval must be positive"))
	}

	return errors.Join(errs...)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.ADC.Max == 0 {
		c.ADC.Max = def.ADC.Max
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	for i := range c.Channels {
		if c.Channels[i].Name != "" {
			continue
		}
		if d, ok := def.Channel(c.Channels[i].ID); ok {
			c.Channels[i].Name = d.Name
			if c.Channels[i].Unit == "" {
				c.Channels[i].Unit = d.Unit
			}
		}
	}

	if c.Control.PumpOutput == 0 {
		c.Control.PumpOutput = def.Control.PumpOutput
	}
	if c.Control.LampOutput == 0 {
		c.Control.LampOutput = def.Control.LampOutput
	}
	if c.Control.LevelOn == 0 {
		c.Control.LevelOn = def.Control.LevelOn
	}
	if c.Control.LevelOff == 0 {
		c.Control.LevelOff = def.Control.LevelOff
	}
	if c.Control.PressureProtect == 0 {
		c.Control.PressureProtect = def.Control.PressureProtect
	}
	if c.Control.LampThreshold == 0 {
		c.Control.LampThreshold = def.Control.LampThreshold
	}

	if c.Dispatch.Tick == 0 {
		c.Dispatch.Tick = def.Dispatch.Tick
	}
	if c.Dispatch.PollInterval == 0 {
		c.Dispatch.PollInterval = def.Dispatch.PollInterval
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.PressureTau == 0 {
		c.Mock.PressureTau = def.Mock.PressureTau
	}
	if c.Mock.StaticPressure == 0 {
		c.Mock.StaticPressure = def.Mock.StaticPressure
	}
	if c.Mock.PumpPressure == 0 {
		c.Mock.PumpPressure = def.Mock.PumpPressure
	}
	if c.Mock.PumpRate == 0 {
		c.Mock.PumpRate = def.Mock.PumpRate
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
