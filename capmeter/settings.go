package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createCapacitanceTab(state),
		createServoTab(state),
		createMeterTab(state),
		createCalibrationTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates a modified copy of the configuration and persists it.
// The live configuration is only replaced when the copy is valid.
func saveConfig(state *appState, edit func(cfg *config.Config)) bool {
	next := *state.cfg
	edit(&next)
	if err := next.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return false
	}
	if err := next.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
		return false
	}
	*state.cfg = next
	return true
}

func uintEntry(v uint64) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.FormatUint(v, 10))
	return e
}

func floatEntry(format string, v float64) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, v))
	return e
}

// parseUint leaves dst untouched when text is not a valid bits wide number.
func parseUint[T uint8 | uint16 | uint32](dst *T, text string, bits int) {
	if v, err := strconv.ParseUint(text, 10, bits); err == nil {
		*dst = T(v)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := device.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Map display name to actual port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	// Add current port if not in list
	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	baudEntry := uintEntry(uint64(state.cfg.Serial.Baud))
	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(state.cfg.Serial.ReplyTimeout.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
			{Text: "Reply Timeout", Widget: timeoutEntry},
		},
		OnSubmit: func() {
			selectedPort := portMap[portSelect.Selected]
			if selectedPort == "" {
				selectedPort = portSelect.Selected
			}
			portChanged := selectedPort != "" && state.cfg.Serial.Port != selectedPort
			wasConnected := state.device != nil && state.device.IsConnected() && !state.useMock

			ok := saveConfig(state, func(cfg *config.Config) {
				if selectedPort != "" {
					cfg.Serial.Port = selectedPort
				}
				if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 {
					cfg.Serial.Baud = baud
				}
				if d, err := time.ParseDuration(timeoutEntry.Text); err == nil && d > 0 {
					cfg.Serial.ReplyTimeout = d
				}
			})

			// Reconnect on the new port
			if ok && portChanged && wasConnected {
				handleConnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createCapacitanceTab creates the auto ranging configuration tab.
func createCapacitanceTab(state *appState) *container.TabItem {
	c := state.cfg.Instrument.Capacitance
	minHzEntry := uintEntry(uint64(c.MinHz))
	maxHzEntry := uintEntry(uint64(c.MaxHz))
	hysteresisEntry := uintEntry(uint64(c.Hysteresis))
	windowHzEntry := uintEntry(uint64(c.WindowHz))
	debugCheck := widget.NewCheck("", nil)
	debugCheck.SetChecked(c.Debug)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Min Frequency (Hz)", Widget: minHzEntry},
			{Text: "Max Frequency (Hz)", Widget: maxHzEntry},
			{Text: "Hysteresis (windows)", Widget: hysteresisEntry},
			{Text: "Windows per Second", Widget: windowHzEntry},
			{Text: "Log Range Changes", Widget: debugCheck},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				c := &cfg.Instrument.Capacitance
				parseUint(&c.MinHz, minHzEntry.Text, 32)
				parseUint(&c.MaxHz, maxHzEntry.Text, 32)
				parseUint(&c.Hysteresis, hysteresisEntry.Text, 32)
				parseUint(&c.WindowHz, windowHzEntry.Text, 16)
				c.Debug = debugCheck.Checked
			})
		},
	}

	return container.NewTabItem("Capacitance", form)
}

// createServoTab creates the bias servo configuration tab.
func createServoTab(state *appState) *container.TabItem {
	s := state.cfg.Instrument.Servo
	minMvEntry := uintEntry(uint64(s.MinMv))
	stepUpEntry := uintEntry(uint64(s.StepUpMv))
	approachEntry := uintEntry(uint64(s.ApproachMv))
	overshootEntry := uintEntry(uint64(s.OvershootMv))
	quenchMvEntry := uintEntry(uint64(s.QuenchMv))
	quenchTimeoutEntry := uintEntry(uint64(s.QuenchTimeoutMs))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Minimum Bias (mV)", Widget: minMvEntry},
			{Text: "Step-up Threshold (mV)", Widget: stepUpEntry},
			{Text: "Fine Approach (mV)", Widget: approachEntry},
			{Text: "Overshoot Limit (mV)", Widget: overshootEntry},
			{Text: "Quenched Below (mV)", Widget: quenchMvEntry},
			{Text: "Quench Timeout (ms, 0=never)", Widget: quenchTimeoutEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				s := &cfg.Instrument.Servo
				parseUint(&s.MinMv, minMvEntry.Text, 16)
				parseUint(&s.StepUpMv, stepUpEntry.Text, 16)
				parseUint(&s.ApproachMv, approachEntry.Text, 16)
				parseUint(&s.OvershootMv, overshootEntry.Text, 16)
				parseUint(&s.QuenchMv, quenchMvEntry.Text, 16)
				parseUint(&s.QuenchTimeoutMs, quenchTimeoutEntry.Text, 32)
			})
		},
	}

	return container.NewTabItem("Servo", form)
}

// createMeterTab creates the host measurement configuration tab.
func createMeterTab(state *appState) *container.TabItem {
	m := state.cfg.Meter
	windowSecondsEntry := floatEntry("%.1f", m.WindowSeconds)
	settleEntry := floatEntry("%.6f", m.SettleThreshold)
	averageSamplesEntry := uintEntry(uint64(m.AverageSamples))
	timerHzEntry := floatEntry("%.0f", m.TimerHz)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window (seconds)", Widget: windowSecondsEntry},
			{Text: "Settle Threshold (relative σ)", Widget: settleEntry},
			{Text: "Average Samples (0=disabled)", Widget: averageSamplesEntry},
			{Text: "Capture Timer (Hz)", Widget: timerHzEntry},
		},
		OnSubmit: func() {
			ok := saveConfig(state, func(cfg *config.Config) {
				if ws, err := strconv.ParseFloat(windowSecondsEntry.Text, 64); err == nil {
					cfg.Meter.WindowSeconds = ws
				}
				if st, err := strconv.ParseFloat(settleEntry.Text, 64); err == nil {
					cfg.Meter.SettleThreshold = st
				}
				if avg, err := strconv.Atoi(averageSamplesEntry.Text); err == nil && avg >= 0 {
					cfg.Meter.AverageSamples = avg
				}
				if hz, err := strconv.ParseFloat(timerHzEntry.Text, 64); err == nil {
					cfg.Meter.TimerHz = hz
				}
			})
			if ok {
				state.capMeter.Configure(state.cfg)
			}
		},
	}

	return container.NewTabItem("Meter", form)
}

// createCalibrationTab creates the comparator threshold tab.
func createCalibrationTab(state *appState) *container.TabItem {
	c := state.cfg.Calibration
	firstEntry := uintEntry(uint64(c.FirstThreshold))
	secondEntry := uintEntry(uint64(c.SecondThreshold))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "First Threshold (code)", Widget: firstEntry},
			{Text: "Second Threshold (code)", Widget: secondEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				parseUint(&cfg.Calibration.FirstThreshold, firstEntry.Text, 16)
				parseUint(&cfg.Calibration.SecondThreshold, secondEntry.Text, 16)
			})
		},
	}

	return container.NewTabItem("Calibration", form)
}

// createMockTab creates the simulated meter configuration tab.
func createMockTab(state *appState) *container.TabItem {
	tickEntry := widget.NewEntry()
	tickEntry.SetText(state.cfg.Mock.Tick.String())
	speedupEntry := floatEntry("%.1f", state.cfg.Mock.Speedup)
	capEntry := floatEntry("%g", float64(state.cfg.Sim.Capacitance))
	leakEntry := floatEntry("%g", float64(state.cfg.Sim.LeakageOhms))
	stuckCheck := widget.NewCheck("", nil)
	stuckCheck.SetChecked(state.cfg.Sim.Stuck)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Tick", Widget: tickEntry},
			{Text: "Speedup", Widget: speedupEntry},
			{Text: "Capacitance (F)", Widget: capEntry},
			{Text: "Leakage (Ω)", Widget: leakEntry},
			{Text: "Stuck Quench", Widget: stuckCheck},
		},
		OnSubmit: func() {
			ok := saveConfig(state, func(cfg *config.Config) {
				if d, err := time.ParseDuration(tickEntry.Text); err == nil && d > 0 {
					cfg.Mock.Tick = d
				}
				if s, err := strconv.ParseFloat(speedupEntry.Text, 64); err == nil && s > 0 {
					cfg.Mock.Speedup = s
				}
				if f, err := strconv.ParseFloat(capEntry.Text, 32); err == nil && f > 0 {
					cfg.Sim.Capacitance = float32(f)
				}
				if r, err := strconv.ParseFloat(leakEntry.Text, 32); err == nil && r > 0 {
					cfg.Sim.LeakageOhms = float32(r)
				}
				cfg.Sim.Stuck = stuckCheck.Checked
			})

			// The device under test changes live on a running simulation
			if mock, isMock := state.device.(*device.Mock); ok && isMock {
				mock.SetCapacitance(state.cfg.Sim.Capacitance)
				mock.SetLeakage(state.cfg.Sim.LeakageOhms)
				state.capMeter.Reset()
			}
		},
	}

	return container.NewTabItem("Mock", form)
}
