// Package metrics exposes controller telemetry and counters in the
// Prometheus text format.
package metrics

import (
	"strconv"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pumpctl"

// Metrics holds the collectors updated by the dispatch loop.
type Metrics struct {
	registry *prometheus.Registry

	channelValue *prometheus.GaugeVec
	channelRaw   *prometheus.GaugeVec
	pump         prometheus.Gauge
	lamp         prometheus.Gauge
	auto         prometheus.Gauge

	linesReceived   prometheus.Counter
	decodeErrors    prometheus.Counter
	commandsSent    prometheus.Counter
	sendFailures    prometheus.Counter
	protectionTrips prometheus.Counter
	events          *prometheus.CounterVec
}

// New creates the collectors and registers them with a private registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "value",
			Help:      "Last physical value per analog channel",
		}, []string{"channel", "name", "unit"}),
		channelRaw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "raw",
			Help:      "Last raw ADC value per analog channel",
		}, []string{"channel"}),
		pump: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_on",
			Help:      "Commanded pump state (1 = on)",
		}),
		lamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lamp_on",
			Help:      "Commanded lamp state (1 = on)",
		}),
		auto: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_mode",
			Help:      "Control mode (1 = auto, 0 = manual)",
		}),
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_received_total",
			Help:      "Telemetry lines received from the controller",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed telemetry lines discarded",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the controller",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Commands that could not be written",
		}),
		protectionTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protection_trips_total",
			Help:      "Pump stops caused by low discharge pressure",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_events_total",
			Help:      "Controller decision events by kind",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.channelValue,
		m.channelRaw,
		m.pump,
		m.lamp,
		m.auto,
		m.linesReceived,
		m.decodeErrors,
		m.commandsSent,
		m.sendFailures,
		m.protectionTrips,
		m.events,
	)
	return m
}

// WatchJournalDrops exports the number of events the journal could not
// queue. dropped is called on every scrape.
func (m *Metrics) WatchJournalDrops(dropped func() int) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_dropped_total",
		Help:      "Decision events lost because the journal queue was full",
	}, func() float64 {
		return float64(dropped())
	}))
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveReading(r sensor.Reading) {
	ch := strconv.Itoa(r.Channel)
	m.channelValue.WithLabelValues(ch, r.Name, r.Unit).Set(r.Value)
	m.channelRaw.WithLabelValues(ch).Set(float64(r.Raw))
}

func (m *Metrics) ObserveState(s control.State) {
	m.pump.Set(boolToFloat(bool(s.Pump)))
	m.lamp.Set(boolToFloat(bool(s.Lamp)))
	m.auto.Set(boolToFloat(s.Mode == control.Auto))
}

func (m *Metrics) ObserveEvent(e control.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == control.EventProtection {
		m.protectionTrips.Inc()
	}
}

func (m *Metrics) LineReceived() { m.linesReceived.Inc() }
func (m *Metrics) DecodeError()  { m.decodeErrors.Inc() }
func (m *Metrics) CommandSent()  { m.commandsSent.Inc() }
func (m *Metrics) SendFailure()  { m.sendFailures.Inc() }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
