// Package publish mirrors telemetry, controller state and decision events to
// an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/sensor"
)

// Topic suffixes under the configured prefix.
const (
	TopicTelemetry = "telemetry"
	TopicState     = "state"
	TopicEvents    = "events"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Publisher publishes controller data. Implementations must not block the
// caller on network I/O.
type Publisher interface {
	PublishTelemetry(r sensor.Reading, at time.Time) error
	PublishState(s control.State, at time.Time) error
	PublishEvent(e control.Event) error
	Close() error
}

// TelemetryPayload is published per converted reading.
type TelemetryPayload struct {
	Timestamp string  `json:"timestamp"`
	Channel   int     `json:"channel"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Raw       int     `json:"raw"`
}

// StatePayload is published, retained, whenever the controller state changes.
type StatePayload struct {
	Timestamp string  `json:"timestamp"`
	Mode      string  `json:"mode"`
	Pump      string  `json:"pump"`
	Lamp      string  `json:"lamp"`
	Level     float64 `json:"level"`
	Pressure  float64 `json:"pressure"`
}

// EventPayload is published per decision event.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func FormatTelemetry(r sensor.Reading, at time.Time) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Channel:   r.Channel,
		Name:      r.Name,
		Value:     r.Value,
		Unit:      r.Unit,
		Raw:       r.Raw,
	})
}

func FormatState(s control.State, at time.Time) ([]byte, error) {
	return json.Marshal(StatePayload{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Mode:      s.Mode.String(),
		Pump:      s.Pump.String(),
		Lamp:      s.Lamp.String(),
		Level:     s.Level,
		Pressure:  s.Pressure,
	})
}

func FormatEvent(e control.Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Kind:      string(e.Kind),
		Message:   e.Message,
	})
}
