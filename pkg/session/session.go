// Package session runs a pump controller session: it owns the transport, the
// telemetry reader and the fixed-rate dispatch loop that feeds readings into
// the controller, sends its commands and notifies the presenter and sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/history"
	"github.com/itohio/pumpctl/pkg/ingest"
	"github.com/itohio/pumpctl/pkg/mcu"
	"github.com/itohio/pumpctl/pkg/metrics"
	"github.com/itohio/pumpctl/pkg/protocol"
	"github.com/itohio/pumpctl/pkg/publish"
	"github.com/itohio/pumpctl/pkg/sensor"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Start on a closed session.
var ErrClosed = errors.New("session closed")

// Presenter receives session updates. Calls come from the dispatch loop
// goroutine; implementations must hand them to their UI thread themselves.
type Presenter interface {
	OnTelemetry(channel int, physical float64, raw int)
	OnStateChange(mode control.Mode, pump, lamp control.OutputState)
	OnDecisionEvent(message string)
}

// EventJournal persists decision events. Append must not block.
type EventJournal interface {
	Append(e control.Event)
}

// Options carries the optional collaborators of a session. Nil sinks are
// skipped.
type Options struct {
	Logger    zerolog.Logger
	Clock     func() time.Time
	Metrics   *metrics.Metrics
	Publisher publish.Publisher
	Journal   EventJournal
	History   *history.History
	// Closers are closed after the transport, in order.
	Closers []io.Closer
}

type outputs struct {
	mode       control.Mode
	pump, lamp control.OutputState
}

// Session is a single connection lifetime. It cannot be restarted after
// Close; create a new one to reconnect.
type Session struct {
	cfg       *config.Config
	transport mcu.Transport
	presenter Presenter
	opts      Options
	log       zerolog.Logger
	clock     func() time.Time

	queue   *ingest.Queue
	reader  *ingest.Reader
	decoder *protocol.Decoder
	scaler  *sensor.Scaler

	mu     sync.Mutex // guards ctrl and outbox
	ctrl   *control.Controller
	outbox []protocol.Command

	// Dispatch loop only.
	last     outputs
	haveLast bool

	started      bool
	closed       bool
	lifecycle    sync.Mutex
	readerCancel context.CancelFunc
	readerDone   chan struct{}
	loopStop     chan struct{}
	loopDone     chan struct{}

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// New creates a session. The transport must not be open yet.
func New(cfg *config.Config, transport mcu.Transport, presenter Presenter, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	if presenter == nil {
		presenter = nopPresenter{}
	}

	queue := ingest.NewQueue()
	return &Session{
		cfg:       cfg,
		transport: transport,
		presenter: presenter,
		opts:      opts,
		log:       opts.Logger,
		clock:     clock,
		queue:     queue,
		reader:    ingest.NewReader(transport, queue, cfg.Dispatch.PollInterval, opts.Logger),
		decoder:   protocol.NewDecoder(cfg.ADC.Max),
		scaler:    sensor.NewScaler(cfg),
		ctrl:      control.New(cfg.Control, clock),
		done:      make(chan struct{}),
	}
}

// Start opens the transport, sends the startup sequence and starts the
// telemetry reader and the dispatch loop. The reader stops when ctx is
// cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("session already started")
	}

	if err := s.transport.Open(); err != nil {
		return err
	}

	s.mu.Lock()
	startup := s.ctrl.Start()
	s.mu.Unlock()

	for _, cmd := range startup {
		if err := s.transport.Send(cmd.String()); err != nil {
			s.transport.Close()
			return fmt.Errorf("startup command %s: %w", cmd, err)
		}
		s.observeSent()
	}
	s.log.Info().Msg("startup sequence sent")

	readerCtx, cancel := context.WithCancel(ctx)
	s.readerCancel = cancel
	s.readerDone = make(chan struct{})
	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.started = true

	go s.runReader(readerCtx)
	go s.runLoop()

	return nil
}

// Close stops the reader, then the dispatch loop, then closes the transport
// and the sinks. It is safe to call more than once.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.started {
		s.readerCancel()
		<-s.readerDone

		close(s.loopStop)
		<-s.loopDone

		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if c, ok := s.opts.Journal.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	for _, c := range s.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.finish(nil)
	s.log.Info().Msg("session closed")
	return errors.Join(errs...)
}

// Done is closed when the session fails or is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, nil after a normal Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// SetMode switches between Manual and Auto mode.
func (s *Session) SetMode(m control.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds, err := s.ctrl.SetMode(m)
	s.outbox = append(s.outbox, cmds...)
	return err
}

// RequestStart switches the pump on. Fails with control.ErrModeConflict in
// Auto mode.
func (s *Session) RequestStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds, err := s.ctrl.RequestStart()
	s.outbox = append(s.outbox, cmds...)
	return err
}

// RequestStop switches the pump off. Fails with control.ErrModeConflict in
// Auto mode.
func (s *Session) RequestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds, err := s.ctrl.RequestStop()
	s.outbox = append(s.outbox, cmds...)
	return err
}

// ToggleLogging flips the logging flag and returns the new value.
func (s *Session) ToggleLogging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.ToggleLogging()
}

// ToggleChart flips the chart flag and returns the new value. Turning the
// chart off clears the recorded history.
func (s *Session) ToggleChart() bool {
	s.mu.Lock()
	on := s.ctrl.ToggleChart()
	s.mu.Unlock()

	if !on && s.opts.History != nil {
		s.opts.History.Reset()
	}
	return on
}

// State returns a snapshot of the controller state.
func (s *Session) State() control.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Snapshot()
}

func (s *Session) runReader(ctx context.Context) {
	defer close(s.readerDone)

	if err := s.reader.Run(ctx); err != nil {
		s.finish(err)
	}
}

func (s *Session) runLoop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.Dispatch.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.loopStop:
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(s.clock())
		}
	}
}

// tick runs one dispatch cycle. A failed session sends nothing more.
func (s *Session) tick(now time.Time) {
	select {
	case <-s.done:
		return
	default:
	}

	lines := s.queue.PopAll()

	s.mu.Lock()
	readings := s.apply(lines)
	cmds := append(s.outbox, s.ctrl.Evaluate(now)...)
	s.outbox = nil
	fatal := s.send(cmds)
	state := s.ctrl.Snapshot()
	events := s.ctrl.Events()
	s.mu.Unlock()

	s.notify(now, readings, state, events)

	if fatal != nil {
		s.finish(fatal)
	}
}

// apply decodes lines and feeds them to the controller. Called with s.mu held.
func (s *Session) apply(lines []string) []sensor.Reading {
	var readings []sensor.Reading

	for _, line := range lines {
		if s.opts.Metrics != nil {
			s.opts.Metrics.LineReceived()
		}

		ev, err := s.decoder.Decode(line)
		if err != nil {
			s.log.Warn().Err(err).Msg("discarding telemetry line")
			s.observeDecodeError()
			continue
		}

		switch ev := ev.(type) {
		case protocol.ChannelReading:
			r, err := s.scaler.Convert(ev.Channel, ev.Raw)
			if err != nil {
				s.log.Warn().Err(err).Str("line", line).Msg("discarding reading")
				s.observeDecodeError()
				continue
			}
			s.ctrl.ApplyReading(r)
			readings = append(readings, r)
		case protocol.DigitalInput:
			s.ctrl.ApplyInput(ev.Channel, ev.State)
		case nil:
			s.log.Debug().Str("line", line).Msg("ignoring line")
		}
	}
	return readings
}

// send writes commands in order. Failed commands are reported back to the
// controller and stay pending there. A broken connection is returned.
// Called with s.mu held.
func (s *Session) send(cmds []protocol.Command) error {
	var fatal error
	for _, cmd := range cmds {
		if fatal != nil {
			s.ctrl.CommandFailed(cmd, fatal)
			continue
		}

		err := s.transport.Send(cmd.String())
		if err == nil {
			s.observeSent()
			s.log.Debug().Str("cmd", cmd.String()).Msg("command sent")
			continue
		}

		s.log.Warn().Err(err).Str("cmd", cmd.String()).Msg("command not sent")
		if s.opts.Metrics != nil {
			s.opts.Metrics.SendFailure()
		}
		s.ctrl.CommandFailed(cmd, err)

		var connErr *mcu.ConnectionError
		if errors.As(err, &connErr) {
			fatal = err
		}
	}
	return fatal
}

func (s *Session) notify(now time.Time, readings []sensor.Reading, state control.State, events []control.Event) {
	for _, r := range readings {
		s.presenter.OnTelemetry(r.Channel, r.Value, r.Raw)
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveReading(r)
		}
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishTelemetry(r, now); err != nil {
				s.log.Debug().Err(err).Msg("telemetry not published")
			}
		}
	}

	if len(readings) > 0 && state.Flags.Chart && s.opts.History != nil {
		s.opts.History.Add(history.Point{Time: now, Level: state.Level, Pressure: state.Pressure})
	}

	cur := outputs{mode: state.Mode, pump: state.Pump, lamp: state.Lamp}
	if !s.haveLast || cur != s.last {
		s.haveLast = true
		s.last = cur
		s.presenter.OnStateChange(cur.mode, cur.pump, cur.lamp)
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveState(state)
		}
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishState(state, now); err != nil {
				s.log.Debug().Err(err).Msg("state not published")
			}
		}
	}

	for _, e := range events {
		if e.Kind != control.EventReading && e.Kind != control.EventInput {
			s.log.Info().Str("kind", string(e.Kind)).Msg(e.Message)
		}
		s.presenter.OnDecisionEvent(e.Message)
		if s.opts.Journal != nil {
			s.opts.Journal.Append(e)
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveEvent(e)
		}
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishEvent(e); err != nil {
				s.log.Debug().Err(err).Msg("event not published")
			}
		}
	}
}

func (s *Session) finish(err error) {
	s.errOnce.Do(func() {
		if err != nil {
			s.log.Error().Err(err).Msg("session failed")
		}
		s.err = err
		close(s.done)
	})
}

func (s *Session) observeSent() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CommandSent()
	}
}

func (s *Session) observeDecodeError() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.DecodeError()
	}
}
