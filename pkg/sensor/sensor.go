package sensor

import (
	"fmt"

	"github.com/itohio/pumpctl/pkg/config"
)

// Reading is a raw sample converted to its physical value.
type Reading struct {
	Channel  int
	Raw      int     // Raw ADC value (possibly averaged)
	Value    float64 // Physical value in Unit
	Unit     string
	Name     string
	FullSpan float64 // Physical value at ADC full scale
}

// Scaler converts raw ADC readings to physical values using linear scaling.
type Scaler struct {
	adcMax   int
	channels map[int]config.ChannelConfig
	avg      map[int]*movingAverage
	window   int
}

// NewScaler creates a scaler from configuration. When cfg.ADC.AverageSamples
// is positive, raw readings of each channel are averaged over that many
// consecutive samples before conversion.
func NewScaler(cfg *config.Config) *Scaler {
	s := &Scaler{
		adcMax:   cfg.ADC.Max,
		channels: make(map[int]config.ChannelConfig, len(cfg.Channels)),
		avg:      make(map[int]*movingAverage),
		window:   cfg.ADC.AverageSamples,
	}
	for _, ch := range cfg.Channels {
		s.channels[ch.ID] = ch
	}
	return s
}

// Convert turns a raw reading of channel into a Reading. Unknown channels and
// raw values outside [0, ADC max] are rejected.
func (s *Scaler) Convert(channel, raw int) (Reading, error) {
	ch, ok := s.channels[channel]
	if !ok {
		return Reading{}, fmt.Errorf("channel %d is not configured", channel)
	}
	if raw < 0 || raw > s.adcMax {
		return Reading{}, fmt.Errorf("channel %d: raw value %d out of range [0, %d]", channel, raw, s.adcMax)
	}

	if s.window > 1 {
		ma, ok := s.avg[channel]
		if !ok {
			ma = newMovingAverage(s.window)
			s.avg[channel] = ma
		}
		raw = ma.add(raw)
	}

	return Reading{
		Channel:  channel,
		Raw:      raw,
		Value:    Scale(raw, s.adcMax, ch.Max),
		Unit:     ch.Unit,
		Name:     ch.Name,
		FullSpan: ch.Max,
	}, nil
}

// Channel returns the configuration of a channel.
func (s *Scaler) Channel(id int) (config.ChannelConfig, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// Scale converts an ADC reading to a physical value: raw/adcMax * span.
// The result is clamped to [0, span].
func Scale(raw, adcMax int, span float64) float64 {
	if adcMax <= 0 || raw <= 0 {
		return 0
	}
	if raw >= adcMax {
		return span
	}
	return float64(raw) / float64(adcMax) * span
}

// Percent returns the reading as a fraction of full scale in percent.
func Percent(raw, adcMax int) float64 {
	return Scale(raw, adcMax, 100)
}
