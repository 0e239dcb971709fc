package session

import (
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/rs/zerolog"
)

type nopPresenter struct{}

func (nopPresenter) OnTelemetry(int, float64, int)                                        {}
func (nopPresenter) OnStateChange(control.Mode, control.OutputState, control.OutputState) {}
func (nopPresenter) OnDecisionEvent(string)                                               {}

// LogPresenter presents the session through a logger. Used when running
// without a display.
type LogPresenter struct {
	log zerolog.Logger
}

func NewLogPresenter(log zerolog.Logger) *LogPresenter {
	return &LogPresenter{log: log}
}

func (p *LogPresenter) OnTelemetry(channel int, physical float64, raw int) {
	p.log.Debug().Int("channel", channel).Float64("value", physical).Int("raw", raw).Msg("telemetry")
}

func (p *LogPresenter) OnStateChange(mode control.Mode, pump, lamp control.OutputState) {
	p.log.Info().Stringer("mode", mode).Stringer("pump", pump).Stringer("lamp", lamp).Msg("state")
}

func (p *LogPresenter) OnDecisionEvent(message string) {
	p.log.Info().Msg(message)
}

var (
	_ Presenter = nopPresenter{}
	_ Presenter = (*LogPresenter)(nil)
)
