package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/device"
	"github.com/itohio/gocapmeter/pkg/meter"
	"github.com/itohio/gocapmeter/pkg/sample"
	"github.com/itohio/gocapmeter/pkg/scope"
)

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use simulated meter instead of serial port")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of readings to average (0 = disabled, overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageSamplesFlag >= 0 {
		cfg.Meter.AverageSamples = *averageSamplesFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	application := app.NewWithID("com.itohio.gocapmeter")

	window := application.NewWindow("Capacitance Meter")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		capMeter:   meter.New(cfg),
		window:     window,
		useMock:    *mockFlag,
	}

	toolbar := createToolbar(state)

	state.scopeWidget = scope.New(cfg)

	// Throttle updates to ~60 FPS to keep the UI responsive
	const updateInterval = 16 * time.Millisecond
	state.capMeter.OnUpdate(func(readings []sample.Reading, _ []float64, stats meter.Stats) {
		state.updateMu.Lock()
		now := time.Now()
		if now.Sub(state.lastUpdateTime) < updateInterval {
			state.updateMu.Unlock()
			return
		}
		state.lastUpdateTime = now
		state.updateMu.Unlock()

		fyne.Do(func() {
			state.scopeWidget.UpdateData(readings, stats)
		})
	})

	window.SetContent(container.NewBorder(toolbar, state.statusLabel, nil, nil, state.scopeWidget))
	window.SetOnClosed(func() {
		if state.device != nil {
			closeMeasurementChain(state.chain)
		}
	})
	window.ShowAndRun()
}

// measurementChain tracks the components of the measurement chain for graceful shutdown.
type measurementChain struct {
	device         device.Device
	readings       <-chan sample.Reading
	meterGoroutine chan struct{} // Closed when meter goroutine exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	configPath  string
	device      device.Device
	capMeter    *meter.Meter
	scopeWidget *scope.ScopeWidget
	window      fyne.Window
	useMock     bool
	chain       *measurementChain // nil if not connected

	connectBtn  *widget.Button
	measureBtn  *widget.Button
	biasEntry   *widget.Entry
	biasBtn     *widget.Button
	quenchBtn   *widget.Button
	statusLabel *widget.Label

	// Throttling for scope updates
	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// createToolbar creates the toolbar with Connect, Settings, Measure and the bias controls.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.measureBtn = widget.NewButtonWithIcon("Measure", theme.MediaPlayIcon(), func() {
		handleMeasure(state)
	})

	state.biasEntry = widget.NewEntry()
	state.biasEntry.SetPlaceHolder("bias mV")
	state.biasEntry.SetText("5000")
	state.biasBtn = widget.NewButtonWithIcon("Bias", theme.UploadIcon(), func() {
		handleBias(state)
	})
	state.quenchBtn = widget.NewButtonWithIcon("Quench", theme.CancelIcon(), func() {
		handleQuench(state)
	})

	state.statusLabel = widget.NewLabel("Disconnected")

	setControlsEnabled(state, false)

	biasBox := container.NewHBox(
		container.NewGridWrap(fyne.NewSize(100, state.biasEntry.MinSize().Height), state.biasEntry),
		state.biasBtn,
		state.quenchBtn,
	)

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn, state.measureBtn),
		biasBox,
		nil,
	)
}

func setControlsEnabled(state *appState, on bool) {
	for _, b := range []*widget.Button{state.measureBtn, state.biasBtn, state.quenchBtn} {
		if on {
			b.Enable()
		} else {
			b.Disable()
		}
	}
}

// closeMeasurementChain gracefully closes the measurement chain.
// Waits for all goroutines to finish and channels to drain.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}

	// Closing the device closes the reports channel, which drains the
	// converters and ends the meter goroutine.
	if chain.device != nil {
		chain.device.Close()
	}
	if chain.meterGoroutine != nil {
		<-chain.meterGoroutine
	}
}

// newDevice creates the configured device.
func newDevice(state *appState) (device.Device, error) {
	if state.useMock {
		return device.NewMock(state.cfg)
	}
	d := device.New(state.cfg.Serial.Port, state.cfg.Serial.Baud, device.DefaultBufferSize)
	d.SetReplyTimeout(state.cfg.Serial.ReplyTimeout)
	return d, nil
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.device != nil && state.device.IsConnected() {
		closeMeasurementChain(state.chain)
		state.chain = nil
		state.device = nil
		setControlsEnabled(state, false)
		state.statusLabel.SetText("Disconnected")
		return
	}

	dev, err := newDevice(state)
	if err == nil {
		err = dev.Connect()
	}
	if err != nil {
		name := state.cfg.Serial.Port
		if state.useMock {
			name = "simulated meter"
		}
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", name, err), state.window)
		return
	}
	state.device = dev

	// Reset meter for the new chain
	state.capMeter.ResetShutdown()
	state.capMeter.Reset()

	var readings <-chan sample.Reading
	if n := state.cfg.Meter.AverageSamples; n > 0 {
		readings = sample.NewAveragingConverter(state.cfg, n, 500)(dev.Reports())
	} else {
		readings = sample.NewConverter(state.cfg, 500)(dev.Reports())
	}

	meterDone := make(chan struct{})
	go func() {
		defer close(meterDone)
		state.capMeter.ProcessReadings(readings)
	}()

	state.chain = &measurementChain{
		device:         dev,
		readings:       readings,
		meterGoroutine: meterDone,
	}
	setControlsEnabled(state, true)

	// Start measuring once the meter answers
	go func() {
		if sendCommand(state, dev, command.Command{Op: command.OpPing}) {
			sendCommand(state, dev, command.Command{Op: command.OpCapacitance, Verbose: true})
		}
	}()
}
