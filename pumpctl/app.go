package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/control"
	"github.com/itohio/pumpctl/pkg/history"
	"github.com/itohio/pumpctl/pkg/session"
	"github.com/itohio/pumpctl/pkg/trend"
	"github.com/rs/zerolog"
)

const (
	maxLogEntries  = 500
	trendWindow    = time.Minute
	trendRefreshHz = 10
)

// appState holds the window state and the current session, if any.
// Widgets are touched only on the UI goroutine; presenter callbacks arrive
// from the dispatch loop and are forwarded with fyne.Do.
type appState struct {
	cfg        *config.Config
	configPath string
	window     fyne.Window
	useMock    bool
	log        zerolog.Logger

	sess *session.Session
	hist *history.History

	connectBtn *widget.Button
	modeRadio  *widget.RadioGroup
	startBtn   *widget.Button
	stopBtn    *widget.Button
	loggingChk *widget.Check
	chartChk   *widget.Check
	syncing    bool // suppresses widget callbacks while mirroring session state

	levelLabel    *widget.Label
	levelBar      *widget.ProgressBar
	pressureLabel *widget.Label
	pressureBar   *widget.ProgressBar
	pumpLabel     *widget.Label
	lampLabel     *widget.Label
	statusLabel   *widget.Label

	entries []string
	logList *widget.List

	trendWidget *trend.Widget
	trendPoints []history.Point

	// Throttling for trend updates
	lastTrendUpdate time.Time
	trendMu         sync.Mutex
}

func newAppState(cfg *config.Config, configPath string, window fyne.Window, useMock bool, log zerolog.Logger) *appState {
	return &appState{
		cfg:        cfg,
		configPath: configPath,
		window:     window,
		useMock:    useMock,
		log:        log,
	}
}

// build creates the window content.
func (s *appState) build() fyne.CanvasObject {
	s.connectBtn = widget.NewButtonWithIcon("Connect", theme.LoginIcon(), s.handleConnect)
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(s)
	})
	s.statusLabel = widget.NewLabel("Disconnected")

	toolbar := container.NewBorder(nil, nil,
		container.NewHBox(s.connectBtn, settingsBtn),
		nil,
		s.statusLabel,
	)

	return container.NewBorder(
		toolbar,
		nil,
		s.buildControls(),
		nil,
		container.NewVSplit(s.buildTrend(), s.buildLog()),
	)
}

func (s *appState) buildControls() fyne.CanvasObject {
	s.levelLabel = widget.NewLabel("-")
	s.levelBar = widget.NewProgressBar()
	s.pressureLabel = widget.NewLabel("-")
	s.pressureBar = widget.NewProgressBar()
	if ch, ok := s.cfg.Channel(config.ChannelWaterLevel); ok {
		s.levelBar.Max = ch.Max
	}
	if ch, ok := s.cfg.Channel(config.ChannelPressure); ok {
		s.pressureBar.Max = ch.Max
	}
	s.levelBar.TextFormatter = func() string { return fmt.Sprintf("%.2f", s.levelBar.Value) }
	s.pressureBar.TextFormatter = func() string { return fmt.Sprintf("%.2f", s.pressureBar.Value) }

	s.pumpLabel = widget.NewLabel(control.Off.String())
	s.lampLabel = widget.NewLabel(control.Off.String())

	s.modeRadio = widget.NewRadioGroup([]string{control.Manual.String(), control.Auto.String()}, s.handleMode)
	s.modeRadio.Horizontal = true
	s.modeRadio.SetSelected(control.Manual.String())

	s.startBtn = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), func() {
		s.request((*session.Session).RequestStart)
	})
	s.startBtn.Importance = widget.HighImportance
	s.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
		s.request((*session.Session).RequestStop)
	})
	s.stopBtn.Importance = widget.DangerImportance

	s.loggingChk = widget.NewCheck("Logging", func(bool) {
		if !s.syncing && s.sess != nil {
			s.sess.ToggleLogging()
		}
	})
	s.chartChk = widget.NewCheck("Chart", func(bool) {
		if !s.syncing && s.sess != nil {
			s.sess.ToggleChart()
			s.refreshTrend(true)
		}
	})

	s.setConnected(false)

	form := widget.NewForm(
		widget.NewFormItem("Water Level", container.NewVBox(s.levelLabel, s.levelBar)),
		widget.NewFormItem("Pressure", container.NewVBox(s.pressureLabel, s.pressureBar)),
		widget.NewFormItem("Pump", s.pumpLabel),
		widget.NewFormItem("Lamp", s.lampLabel),
		widget.NewFormItem("Mode", s.modeRadio),
	)

	return container.NewVBox(
		widget.NewCard("Plant", "", form),
		widget.NewCard("Pump", "", container.NewGridWithColumns(2, s.startBtn, s.stopBtn)),
		widget.NewCard("View", "", container.NewHBox(s.loggingChk, s.chartChk)),
	)
}

func (s *appState) buildTrend() fyne.CanvasObject {
	level := trend.Axis{Label: "Level", Unit: "m", Max: 5}
	pressure := trend.Axis{Label: "Pressure", Unit: "Bar", Max: 10}
	if ch, ok := s.cfg.Channel(config.ChannelWaterLevel); ok {
		level = trend.Axis{Label: ch.Name, Unit: ch.Unit, Max: ch.Max}
	}
	if ch, ok := s.cfg.Channel(config.ChannelPressure); ok {
		pressure = trend.Axis{Label: ch.Name, Unit: ch.Unit, Max: ch.Max}
	}
	level.Thresholds = []float64{s.cfg.Control.LevelOff, s.cfg.Control.LevelOn}
	pressure.Thresholds = []float64{s.cfg.Control.PressureProtect}

	s.trendWidget = trend.New(level, pressure, trendWindow)
	return s.trendWidget
}

func (s *appState) buildLog() fyne.CanvasObject {
	s.logList = widget.NewList(
		func() int { return len(s.entries) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(s.entries[id])
		},
	)
	return s.logList
}

// handleConnect connects or disconnects.
func (s *appState) handleConnect() {
	if s.sess != nil {
		s.disconnect()
		return
	}
	if err := s.connect(); err != nil {
		s.log.Error().Err(err).Msg("connect failed")
		dialog.ShowError(err, s.window)
	}
}

func (s *appState) connect() error {
	s.hist = history.New(historyCapacity)
	opts, err := newSessionOptions(s.cfg, s.hist, s.log)
	if err != nil {
		return err
	}

	backlog, err := journalBacklog(opts, maxLogEntries)
	if err != nil {
		s.log.Warn().Err(err).Msg("journal backlog not loaded")
	}
	if len(backlog) > 0 {
		s.entries = append(s.entries[:0], backlog...)
		s.logList.Refresh()
		s.logList.ScrollToBottom()
	}

	sess := session.New(s.cfg, newTransport(s.cfg, s.useMock, s.log), s, opts)
	if err := sess.Start(context.Background()); err != nil {
		closeOptions(opts)
		return fmt.Errorf("failed to connect: %w", err)
	}
	s.sess = sess
	s.setConnected(true)
	s.mirror(sess.State())

	go s.watch(sess)
	return nil
}

// watch reports a session that ended on its own.
func (s *appState) watch(sess *session.Session) {
	<-sess.Done()
	err := sess.Err()
	if err == nil {
		return
	}
	fyne.Do(func() {
		if s.sess != sess {
			return
		}
		s.disconnect()
		dialog.ShowError(fmt.Errorf("connection lost: %w", err), s.window)
	})
}

// disconnect closes the current session. Safe to call when disconnected.
func (s *appState) disconnect() {
	if s.sess == nil {
		return
	}
	if err := s.sess.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close")
	}
	s.sess = nil
	s.setConnected(false)
}

func (s *appState) setConnected(connected bool) {
	controls := []fyne.Disableable{s.modeRadio, s.startBtn, s.stopBtn, s.loggingChk, s.chartChk}
	for _, c := range controls {
		if connected {
			c.Enable()
		} else {
			c.Disable()
		}
	}
	if s.connectBtn == nil {
		return
	}
	if connected {
		s.connectBtn.SetText("Disconnect")
		s.connectBtn.SetIcon(theme.LogoutIcon())
		s.statusLabel.SetText(s.portName())
	} else {
		s.connectBtn.SetText("Connect")
		s.connectBtn.SetIcon(theme.LoginIcon())
		s.statusLabel.SetText("Disconnected")
	}
}

func (s *appState) portName() string {
	if s.useMock {
		return "Connected (simulator)"
	}
	return fmt.Sprintf("Connected to %s @ %d", s.cfg.Serial.Port, s.cfg.Serial.BaudRate)
}

func (s *appState) handleMode(selected string) {
	if s.syncing || s.sess == nil {
		return
	}
	mode := control.Manual
	if selected == control.Auto.String() {
		mode = control.Auto
	}
	if err := s.sess.SetMode(mode); err != nil {
		dialog.ShowError(err, s.window)
	}
}

// request runs a manual pump request. Mode conflicts are already reported
// in the activity log.
func (s *appState) request(fn func(*session.Session) error) {
	if s.sess == nil {
		return
	}
	if err := fn(s.sess); err != nil && !errors.Is(err, control.ErrModeConflict) {
		dialog.ShowError(err, s.window)
	}
}

// mirror copies session state into the widgets without triggering their
// callbacks.
func (s *appState) mirror(st control.State) {
	s.syncing = true
	defer func() { s.syncing = false }()

	s.modeRadio.SetSelected(st.Mode.String())
	s.loggingChk.SetChecked(st.Flags.Logging)
	s.chartChk.SetChecked(st.Flags.Chart)
	s.pumpLabel.SetText(st.Pump.String())
	s.lampLabel.SetText(st.Lamp.String())
	if st.Pump {
		s.pumpLabel.Importance = widget.SuccessImportance
	} else {
		s.pumpLabel.Importance = widget.MediumImportance
	}
	if st.Lamp {
		s.lampLabel.Importance = widget.WarningImportance
	} else {
		s.lampLabel.Importance = widget.MediumImportance
	}
	s.pumpLabel.Refresh()
	s.lampLabel.Refresh()
}

// appendEntry adds a line to the activity log, dropping the oldest.
func (s *appState) appendEntry(msg string) {
	s.entries = append(s.entries, msg)
	if over := len(s.entries) - maxLogEntries; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
	s.logList.Refresh()
	s.logList.ScrollToBottom()
}

// refreshTrend pushes history into the trend widget at most trendRefreshHz
// times per second unless forced.
func (s *appState) refreshTrend(force bool) {
	s.trendMu.Lock()
	now := time.Now()
	if !force && now.Sub(s.lastTrendUpdate) < time.Second/trendRefreshHz {
		s.trendMu.Unlock()
		return
	}
	s.lastTrendUpdate = now
	s.trendMu.Unlock()

	if s.hist == nil {
		return
	}
	s.trendPoints = s.hist.Points(s.trendPoints[:0])
	s.trendWidget.UpdateData(s.trendPoints)
}

func (s *appState) OnTelemetry(channel int, physical float64, raw int) {
	fyne.Do(func() {
		text := fmt.Sprintf("%.2f (ADC: %d)", physical, raw)
		if ch, ok := s.cfg.Channel(channel); ok {
			text = fmt.Sprintf("%.2f %s (ADC: %d)", physical, ch.Unit, raw)
		}
		switch channel {
		case config.ChannelWaterLevel:
			s.levelLabel.SetText(text)
			s.levelBar.SetValue(physical)
		case config.ChannelPressure:
			s.pressureLabel.SetText(text)
			s.pressureBar.SetValue(physical)
		}
		s.refreshTrend(false)
	})
}

func (s *appState) OnStateChange(control.Mode, control.OutputState, control.OutputState) {
	fyne.Do(func() {
		if s.sess == nil {
			return
		}
		s.mirror(s.sess.State())
	})
}

func (s *appState) OnDecisionEvent(message string) {
	entry := time.Now().Format(time.TimeOnly) + " " + message
	fyne.Do(func() {
		s.appendEntry(entry)
	})
}

var _ session.Presenter = (*appState)(nil)
