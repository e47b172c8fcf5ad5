package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/device"
)

// handleBias parses the bias entry and starts the servo.
func handleBias(state *appState) {
	mv, err := strconv.ParseUint(strings.TrimSpace(state.biasEntry.Text), 10, 16)
	if err != nil {
		dialog.ShowError(fmt.Errorf("invalid bias %q: %w", state.biasEntry.Text, err), state.window)
		return
	}
	state.statusLabel.SetText(fmt.Sprintf("Charging to %d mV...", mv))
	go sendCommand(state, state.device, command.Command{Op: command.OpBias, Mv: uint16(mv)})
}

// handleQuench discharges the bias node.
func handleQuench(state *appState) {
	state.statusLabel.SetText("Quenching...")
	go sendCommand(state, state.device, command.Command{Op: command.OpQuench})
}

// handleMeasure returns the meter to capacitance mode with reports enabled
// and restarts the statistics.
func handleMeasure(state *appState) {
	state.capMeter.Reset()
	go sendCommand(state, state.device, command.Command{Op: command.OpCapacitance, Verbose: true})
}

// sendCommand runs cmd off the UI goroutine and reports whether it
// succeeded. A bias change can take several seconds to settle.
func sendCommand(state *appState, dev device.Device, cmd command.Command) bool {
	if dev == nil || !dev.IsConnected() {
		return false
	}

	r, err := dev.Send(cmd)
	if err != nil {
		log.Printf("Command %s failed: %v", cmd, err)
		fyne.Do(func() {
			state.statusLabel.SetText(fmt.Sprintf("%s failed", cmd.Op))
			dialog.ShowError(fmt.Errorf("%s: %w", cmd, err), state.window)
		})
		return false
	}

	text := describeReply(r)
	fyne.Do(func() {
		state.statusLabel.SetText(text)
	})
	return true
}

// describeReply renders a reply for the status bar.
func describeReply(r command.Reply) string {
	switch r.Op {
	case command.OpPing:
		return "Connected"
	case command.OpBias, command.OpQuench:
		return fmt.Sprintf("Bias %s, %s mV", r.Arg(0), r.Arg(1))
	case command.OpCapacitance:
		return "Measuring capacitance"
	default:
		return r.String()
	}
}
