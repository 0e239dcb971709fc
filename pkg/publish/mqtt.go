package publish

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/sensor"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

// MQTT publishes to a broker. Publishes are fire-and-forget so that a slow
// broker never stalls the dispatch loop; delivery errors are logged.
type MQTT struct {
	client paho.Client
	prefix string
	log    zerolog.Logger
}

// NewMQTT connects to the broker configured in cfg.
func NewMQTT(cfg config.MQTTConfig, log zerolog.Logger) (*MQTT, error) {
	log = log.With().Str("broker", cfg.Broker).Logger()

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			log.Info().Msg("mqtt connected")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.Broker, err)
	}

	return &MQTT{
		client: client,
		prefix: cfg.TopicPrefix,
		log:    log,
	}, nil
}

func (p *MQTT) PublishTelemetry(r sensor.Reading, at time.Time) error {
	payload, err := FormatTelemetry(r, at)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.publish(TopicTelemetry, false, payload)
}

func (p *MQTT) PublishState(s control.State, at time.Time) error {
	payload, err := FormatState(s, at)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(TopicState, true, payload)
}

func (p *MQTT) PublishEvent(e control.Event) error {
	payload, err := FormatEvent(e)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(TopicEvents, false, payload)
}

func (p *MQTT) publish(suffix string, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	topic := p.prefix + "/" + suffix
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
		}
	}()
	return nil
}

// Close disconnects from the broker.
func (p *MQTT) Close() error {
	p.client.Disconnect(1000)
	return nil
}
