package publish

import (
	"sync"
	"time"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/sensor"
)

// Fake records published messages for test assertions.
type Fake struct {
	mu sync.Mutex

	Telemetry []sensor.Reading
	States    []control.State
	Events    []control.Event
	Payloads  map[string][][]byte // by topic suffix

	// PublishError, if set, is returned by every publish.
	PublishError error
	Closed       bool
}

func NewFake() *Fake {
	return &Fake{Payloads: make(map[string][][]byte)}
}

func (f *Fake) PublishTelemetry(r sensor.Reading, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatTelemetry(r, at)
	if err != nil {
		return err
	}
	f.Telemetry = append(f.Telemetry, r)
	f.Payloads[TopicTelemetry] = append(f.Payloads[TopicTelemetry], payload)
	return nil
}

func (f *Fake) PublishState(s control.State, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatState(s, at)
	if err != nil {
		return err
	}
	f.States = append(f.States, s)
	f.Payloads[TopicState] = append(f.Payloads[TopicState], payload)
	return nil
}

func (f *Fake) PublishEvent(e control.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatEvent(e)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, e)
	f.Payloads[TopicEvents] = append(f.Payloads[TopicEvents], payload)
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Snapshot returns copies of the recorded states and events.
func (f *Fake) Snapshot() ([]control.State, []control.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]control.State(nil), f.States...), append([]control.Event(nil), f.Events...)
}

var (
	_ Publisher = (*MQTT)(nil)
	_ Publisher = (*Fake)(nil)
)
