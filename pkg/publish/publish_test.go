package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFormatTelemetry(t *testing.T) {
	payload, err := FormatTelemetry(sensor.Reading{Channel: 1, Raw: 512, Value: 5.0, Unit: "Bar", Name: "Pressure"}, ts)
	require.NoError(t, err)

	var got TelemetryPayload
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, TelemetryPayload{
		Timestamp: "2024-05-01T12:00:00Z",
		Channel:   1,
		Name:      "Pressure",
		Value:     5.0,
		Unit:      "Bar",
		Raw:       512,
	}, got)
}

func TestFormatState(t *testing.T) {
	payload, err := FormatState(control.State{Mode: control.Auto, Pump: control.On, Level: 3.1, Pressure: 2.2}, ts)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"timestamp":"2024-05-01T12:00:00Z","mode":"Auto","pump":"ON","lamp":"OFF","level":3.1,"pressure":2.2}`,
		string(payload))
}

func TestFormatEvent(t *testing.T) {
	payload, err := FormatEvent(control.Event{Time: ts, Kind: control.EventProtection, Message: "Pressure LOW"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2024-05-01T12:00:00Z","kind":"PROTECTION","message":"Pressure LOW"}`, string(payload))
}

func TestFake(t *testing.T) {
	f := NewFake()

	require.NoError(t, f.PublishTelemetry(sensor.Reading{Channel: 0}, ts))
	require.NoError(t, f.PublishState(control.State{}, ts))
	require.NoError(t, f.PublishEvent(control.Event{Kind: control.EventStartup}))
	assert.Len(t, f.Payloads[TopicTelemetry], 1)
	assert.Len(t, f.Payloads[TopicState], 1)
	assert.Len(t, f.Payloads[TopicEvents], 1)

	f.PublishError = errors.New("down")
	assert.Error(t, f.PublishEvent(control.Event{}))
	assert.Len(t, f.Events, 1)

	require.NoError(t, f.Close())
	assert.True(t, f.Closed)
}
