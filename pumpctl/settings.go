package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/pumpctl/pkg/config"
	"github.com/itohio/pumpctl/pkg/mcu"
)

// showSettingsDialog displays the configuration tabs. Changes are saved to the
// configuration file and take effect on the next connect.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createControlTab(state),
		createChannelsTab(state),
		createMockTab(state),
		createIntegrationsTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// save validates a candidate configuration and persists it. The live
// configuration is replaced only when the candidate is valid.
func (s *appState) save(apply func(c *config.Config)) {
	candidate := *s.cfg
	candidate.Channels = append([]config.ChannelConfig(nil), s.cfg.Channels...)
	apply(&candidate)

	if err := candidate.Validate(); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	if err := candidate.Save(s.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
		return
	}
	*s.cfg = candidate

	if s.sess != nil {
		dialog.ShowInformation("Settings", "Saved. Reconnect to apply.", s.window)
	}
}

func floatEntry(v float64, prec int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.FormatFloat(v, 'f', prec, 64))
	return e
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

func durationEntry(d time.Duration) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(d.String())
	return e
}

func textEntry(v string) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(v)
	return e
}

// Unparseable entries keep the previous value.
func parseFloat(e *widget.Entry, dst *float64) {
	if v, err := strconv.ParseFloat(e.Text, 64); err == nil {
		*dst = v
	}
}

func parseInt(e *widget.Entry, dst *int) {
	if v, err := strconv.Atoi(e.Text); err == nil {
		*dst = v
	}
}

func parseDuration(e *widget.Entry, dst *time.Duration) {
	if v, err := time.ParseDuration(e.Text); err == nil {
		*dst = v
	}
}

func createSerialTab(state *appState) *container.TabItem {
	portOptions := []string{}
	portMap := make(map[string]string) // display name -> port name
	if ports, err := mcu.Ports(); err == nil {
		for _, port := range ports {
			display := port.Name
			if port.Description != "" && port.Description != port.Name {
				display = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, display)
			portMap[display] = port.Name
		}
	} else {
		state.log.Warn().Err(err).Msg("list serial ports")
	}

	current := state.cfg.Serial.Port
	selected := ""
	for display, name := range portMap {
		if name == current {
			selected = display
		}
	}
	if selected == "" && current != "" {
		portOptions = append(portOptions, current)
		portMap[current] = current
		selected = current
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if selected != "" {
		portSelect.SetSelected(selected)
	}
	baud := intEntry(state.cfg.Serial.BaudRate)
	adcMax := intEntry(state.cfg.ADC.Max)
	average := intEntry(state.cfg.ADC.AverageSamples)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baud},
			{Text: "ADC Full Scale", Widget: adcMax},
			{Text: "Average Samples (0=disabled)", Widget: average},
		},
		OnSubmit: func() {
			state.save(func(c *config.Config) {
				if portSelect.Selected != "" {
					c.Serial.Port = portMap[portSelect.Selected]
					if c.Serial.Port == "" {
						c.Serial.Port = portSelect.Selected
					}
				}
				parseInt(baud, &c.Serial.BaudRate)
				parseInt(adcMax, &c.ADC.Max)
				parseInt(average, &c.ADC.AverageSamples)
			})
		},
	}

	return container.NewTabItem("Serial", form)
}

func createControlTab(state *appState) *container.TabItem {
	ctl := state.cfg.Control
	levelOn := floatEntry(ctl.LevelOn, 2)
	levelOff := floatEntry(ctl.LevelOff, 2)
	protect := floatEntry(ctl.PressureProtect, 2)
	lamp := intEntry(ctl.LampThreshold)
	lockout := durationEntry(ctl.ProtectionLockout)
	grace := durationEntry(ctl.PrimingGrace)
	pumpOut := intEntry(ctl.PumpOutput)
	lampOut := intEntry(ctl.LampOutput)
	tick := durationEntry(state.cfg.Dispatch.Tick)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Pump On Above (m)", Widget: levelOn},
			{Text: "Pump Off At (m)", Widget: levelOff},
			{Text: "Dry-Run Pressure (Bar)", Widget: protect},
			{Text: "Lamp Threshold (ADC)", Widget: lamp},
			{Text: "Protection Lockout", Widget: lockout},
			{Text: "Priming Grace", Widget: grace},
			{Text: "Pump Output", Widget: pumpOut},
			{Text: "Lamp Output", Widget: lampOut},
			{Text: "Control Tick", Widget: tick},
		},
		OnSubmit: func() {
			state.save(func(c *config.Config) {
				parseFloat(levelOn, &c.Control.LevelOn)
				parseFloat(levelOff, &c.Control.LevelOff)
				parseFloat(protect, &c.Control.PressureProtect)
				parseInt(lamp, &c.Control.LampThreshold)
				parseDuration(lockout, &c.Control.ProtectionLockout)
				parseDuration(grace, &c.Control.PrimingGrace)
				parseInt(pumpOut, &c.Control.PumpOutput)
				parseInt(lampOut, &c.Control.LampOutput)
				parseDuration(tick, &c.Dispatch.Tick)
			})
		},
	}

	return container.NewTabItem("Control", form)
}

func createChannelsTab(state *appState) *container.TabItem {
	type row struct {
		name, unit, max *widget.Entry
	}
	rows := make([]row, len(state.cfg.Channels))
	items := make([]*widget.FormItem, 0, len(rows))
	for i, ch := range state.cfg.Channels {
		rows[i] = row{name: textEntry(ch.Name), unit: textEntry(ch.Unit), max: floatEntry(ch.Max, 2)}
		items = append(items, widget.NewFormItem(
			fmt.Sprintf("ADC%d", ch.ID),
			container.NewGridWithColumns(3, rows[i].name, rows[i].unit, rows[i].max),
		))
	}

	form := &widget.Form{
		Items: items,
		OnSubmit: func() {
			state.save(func(c *config.Config) {
				for i := range rows {
					c.Channels[i].Name = rows[i].name.Text
					c.Channels[i].Unit = rows[i].unit.Text
					parseFloat(rows[i].max, &c.Channels[i].Max)
				}
			})
		},
	}

	return container.NewTabItem("Channels", container.NewVBox(
		widget.NewLabel("Name, unit and full-scale value per ADC channel"),
		form,
	))
}

func createMockTab(state *appState) *container.TabItem {
	m := state.cfg.Mock
	initial := floatEntry(m.InitialLevel, 2)
	inflow := floatEntry(m.InflowRate, 3)
	pumpRate := floatEntry(m.PumpRate, 3)
	pressure := floatEntry(m.PumpPressure, 2)
	static := floatEntry(m.StaticPressure, 2)
	tau := durationEntry(m.PressureTau)
	noise := floatEntry(m.NoiseLevel, 4)
	sampleRate := durationEntry(m.SampleRate)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Initial Level (m)", Widget: initial},
			{Text: "Inflow (m/s)", Widget: inflow},
			{Text: "Pump Drain (m/s)", Widget: pumpRate},
			{Text: "Pump Pressure (Bar)", Widget: pressure},
			{Text: "Static Pressure (Bar)", Widget: static},
			{Text: "Pressure Settling", Widget: tau},
			{Text: "Noise (fraction)", Widget: noise},
			{Text: "Sample Rate", Widget: sampleRate},
		},
		OnSubmit: func() {
			state.save(func(c *config.Config) {
				parseFloat(initial, &c.Mock.InitialLevel)
				parseFloat(inflow, &c.Mock.InflowRate)
				parseFloat(pumpRate, &c.Mock.PumpRate)
				parseFloat(pressure, &c.Mock.PumpPressure)
				parseFloat(static, &c.Mock.StaticPressure)
				parseDuration(tau, &c.Mock.PressureTau)
				parseFloat(noise, &c.Mock.NoiseLevel)
				parseDuration(sampleRate, &c.Mock.SampleRate)
			})
		},
	}

	return container.NewTabItem("Mock", form)
}

func createIntegrationsTab(state *appState) *container.TabItem {
	broker := textEntry(state.cfg.MQTT.Broker)
	broker.SetPlaceHolder("tcp://localhost:1883 (empty = disabled)")
	clientID := textEntry(state.cfg.MQTT.ClientID)
	prefix := textEntry(state.cfg.MQTT.TopicPrefix)
	listen := textEntry(state.cfg.Metrics.Listen)
	listen.SetPlaceHolder(":9100 (empty = disabled)")
	journalPath := textEntry(state.cfg.Journal.Path)
	journalPath.SetPlaceHolder("events.db (empty = disabled)")

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "MQTT Broker", Widget: broker},
			{Text: "MQTT Client ID", Widget: clientID},
			{Text: "MQTT Topic Prefix", Widget: prefix},
			{Text: "Metrics Listen", Widget: listen},
			{Text: "Event Journal", Widget: journalPath},
		},
		OnSubmit: func() {
			state.save(func(c *config.Config) {
				c.MQTT.Broker = broker.Text
				c.MQTT.ClientID = clientID.Text
				c.MQTT.TopicPrefix = prefix.Text
				c.Metrics.Listen = listen.Text
				c.Journal.Path = journalPath.Text
			})
		},
	}

	return container.NewTabItem("Integrations", form)
}
